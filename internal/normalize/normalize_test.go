package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengov-gr/diavgeia-harvester/constants"
	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
)

func envelope(t *testing.T, ada string, fields map[string]any) entity.MetadataEnvelope {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return entity.MetadataEnvelope{ADA: ada, Raw: raw, Fields: fields}
}

func newStage(t *testing.T) *Stage {
	t.Helper()
	s, err := NewStage(nil)
	require.NoError(t, err)
	return s
}

func TestNormalize_FullEnvelope(t *testing.T) {
	s := newStage(t)

	env := envelope(t, "ΩΞ46ΜΤΛ6-9Φ1", map[string]any{
		"protocolNumber":      "12345",
		"issueDate":           float64(1651363200000), // 2022-05-01 UTC
		"subject":             "Έγκριση δαπάνης",
		"organizationId":      "50054",
		"unitIds":             []any{"100089", "100090"},
		"signerIds":           []any{"SIG1"},
		"decisionTypeId":      "ΕΓΚΡΙΣΗ_ΔΑΠΑΝΗΣ",
		"thematicCategoryIds": []any{"20", "10", "20"},
		"extraFieldValues": map[string]any{
			"awardAmount": map[string]any{"amount": 1234.5, "currency": "EUR"},
		},
	})

	textRef := &entity.ArtifactRef{Path: "text/X/pdf-text.txt", SHA256: "abc"}
	rawRef := &entity.ArtifactRef{Path: "raw/X/1-abc.pdf", SHA256: "abc"}

	rec, err := s.Normalize(env, textRef, rawRef)
	require.NoError(t, err)

	assert.Equal(t, "ΩΞ46ΜΤΛ6-9Φ1", rec.ADA)
	require.NotNil(t, rec.IssueDate)
	assert.Equal(t, "2022-05-01", *rec.IssueDate)
	require.NotNil(t, rec.Subject)
	assert.Equal(t, "Έγκριση δαπάνης", *rec.Subject)
	assert.Equal(t, []string{"10", "20"}, rec.ClassificationTags, "tags deduplicated and sorted")
	require.Len(t, rec.FinancialAmounts, 1)
	assert.Equal(t, "1234.50", rec.FinancialAmounts[0].Amount)
	assert.Equal(t, "EUR", rec.FinancialAmounts[0].Currency)
	assert.Equal(t, constants.CompletenessComplete, rec.Completeness)
	assert.Empty(t, rec.FieldFlags)
}

func TestNormalize_DegradedEnvelope(t *testing.T) {
	s := newStage(t)

	// only ada and issueDate survive upstream
	env := envelope(t, "123456/ΑΒΓ1Ψ-ΞΩΖ", map[string]any{
		"issueDate": "2023-11-02",
	})

	rec, err := s.Normalize(env, &entity.ArtifactRef{Path: "t.txt"}, &entity.ArtifactRef{Path: "r.pdf"})
	require.NoError(t, err, "missing fields must degrade, not fail")

	assert.Nil(t, rec.Subject)
	assert.Nil(t, rec.ProtocolNumber)
	assert.Empty(t, rec.FinancialAmounts)
	assert.Equal(t, constants.CompletenessPartial, rec.Completeness)
}

func TestNormalize_MinimalEnvelope(t *testing.T) {
	s := newStage(t)

	rec, err := s.Normalize(envelope(t, "Ω123", map[string]any{}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.CompletenessMinimal, rec.Completeness)
}

func TestNormalize_MissingADAFails(t *testing.T) {
	s := newStage(t)

	_, err := s.Normalize(envelope(t, "", map[string]any{"subject": "x"}), nil, nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestNormalize_ADAFromEnvelopeBody(t *testing.T) {
	s := newStage(t)

	rec, err := s.Normalize(envelope(t, "", map[string]any{"ada": "Β4ΘΛ469Η-ΖΗΣ"}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Β4ΘΛ469Η-ΖΗΣ", rec.ADA)
}

func TestNormalize_NoTextRefLowersCompleteness(t *testing.T) {
	s := newStage(t)

	env := envelope(t, "Ω123", map[string]any{
		"protocolNumber": "1",
		"issueDate":      "2024-01-01",
		"subject":        "θέμα",
		"organizationId": "50054",
		"decisionTypeId": "ΣΥΜΒΑΣΗ",
	})

	rec, err := s.Normalize(env, nil, &entity.ArtifactRef{Path: "r.pdf"})
	require.NoError(t, err)
	assert.Equal(t, constants.CompletenessPartial, rec.Completeness,
		"all fields present but no text artifact is not complete")
}

func TestNormalize_NonconformingIDsFlaggedNotRejected(t *testing.T) {
	s := newStage(t)

	env := envelope(t, "Ω123", map[string]any{
		"organizationId": "ΟΡΓ-13",
		"unitIds":        []any{"abc"},
	})

	rec, err := s.Normalize(env, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, rec.OrganizationID)
	assert.Equal(t, "ΟΡΓ-13", *rec.OrganizationID)
	assert.Contains(t, rec.FieldFlags, "organizationId:nonconforming")
	assert.Contains(t, rec.FieldFlags, "unitIds:nonconforming")
}

func TestNormalize_UnknownDecisionTypeFlagged(t *testing.T) {
	s := newStage(t)

	rec, err := s.Normalize(envelope(t, "Ω123", map[string]any{"decisionTypeId": "ΚΑΤΙ_ΑΛΛΟ"}), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, rec.FieldFlags, "decisionType:unknown")
}

func TestDateField(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"epoch millis", float64(1700000000000), "2023-11-14", true},
		{"iso date", "2023-01-31", "2023-01-31", true},
		{"rfc3339", "2023-01-31T10:00:00Z", "2023-01-31", true},
		{"greek layout", "31/01/2023", "2023-01-31", true},
		{"garbage", "soon", "", false},
		{"nil", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := dateField(map[string]any{"issueDate": tc.in}, "issueDate")
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	a, ok := parseAmount(float64(10), nil)
	require.True(t, ok)
	assert.Equal(t, "10.00", a.Amount)
	assert.Equal(t, "EUR", a.Currency, "currency defaults to EUR")

	a, ok = parseAmount("1.234,, bad", nil)
	assert.False(t, ok, "unparsable amounts are dropped, not zeroed")
	_ = a

	a, ok = parseAmount("99,90", "eur")
	require.True(t, ok)
	assert.Equal(t, "99.90", a.Amount, "comma decimals accepted")
	assert.Equal(t, "EUR", a.Currency)

	a, ok = parseAmount(-12.345, "USD")
	require.True(t, ok)
	assert.Equal(t, "-12.35", a.Amount)
}

func TestValidatorRejectsBadDate(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	bad := "not-a-date"
	err = v.Validate(entity.StructuredRecord{
		ADA:          "Ω123",
		IssueDate:    &bad,
		Completeness: constants.CompletenessPartial,
	})
	assert.Error(t, err)
}
