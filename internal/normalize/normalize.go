// Package normalize maps the portal's loosely-typed metadata envelopes into
// the canonical structured-record schema. Upstream data is known to be
// inconsistent, so every field except the ADA itself degrades to an explicit
// null/unknown marker instead of failing the record.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/constants"
	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
)

// ValidationError is terminal: the primary identifier itself is unusable.
// Every other defect degrades the record instead.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a terminal validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Portal organization and unit identifiers are numeric strings.
var reOrgID = regexp.MustCompile(`^\d{3,12}$`)

// Known decision types published by the portal; anything else is kept but
// flagged.
var decisionTypes = func() map[string]struct{} {
	known := []string{
		"ΚΑΝΟΝΙΣΤΙΚΗ_ΠΡΑΞΗ",
		"ΛΟΙΠΕΣ_ΑΤΟΜΙΚΕΣ_ΔΙΟΙΚΗΤΙΚΕΣ_ΠΡΑΞΕΙΣ",
		"ΕΓΚΡΙΣΗ_ΔΑΠΑΝΗΣ",
		"ΟΡΙΣΤΙΚΟΠΟΙΗΣΗ_ΠΛΗΡΩΜΗΣ",
		"ΑΝΑΛΗΨΗ_ΥΠΟΧΡΕΩΣΗΣ",
		"ΕΠΙΤΡΟΠΙΚΟ_ΕΝΤΑΛΜΑ",
		"ΣΥΜΒΑΣΗ",
		"ΑΝΑΘΕΣΗ_ΕΡΓΩΝ_ΠΡΟΜΗΘΕΙΩΝ_ΥΠΗΡΕΣΙΩΝ_ΜΕΛΕΤΩΝ",
		"ΠΡΑΞΗ_ΠΟΥ_ΑΦΟΡΑ_ΣΕ_ΣΥΛΛΟΓΙΚΟ_ΟΡΓΑΝΟ",
		"ΔΙΟΡΙΣΜΟΣ",
		"ΠΡΟΚΗΡΥΞΗ",
	}
	m := make(map[string]struct{}, len(known))
	for _, t := range known {
		m[t] = struct{}{}
	}
	return m
}()

// Stage builds structured records. It holds no state beyond a logger and the
// schema validator: normalization is a pure function of its inputs.
type Stage struct {
	Logger    *slog.Logger
	validator *Validator
}

func NewStage(logger *slog.Logger) (*Stage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Stage{Logger: logger, validator: v}, nil
}

// Normalize maps env into a StructuredRecord referencing the given artifacts.
// A nil textRef (extraction failed or not yet run) lowers completeness but is
// not an error. Fails only when no usable ADA can be established.
func (s *Stage) Normalize(env entity.MetadataEnvelope, textRef, rawRef *entity.ArtifactRef) (entity.StructuredRecord, error) {
	ada := strings.TrimSpace(env.ADA)
	if ada == "" {
		ada, _ = stringField(env.Fields, "ada")
		ada = strings.TrimSpace(ada)
	}
	if ada == "" {
		return entity.StructuredRecord{}, &ValidationError{Err: fmt.Errorf("envelope has no decision identifier")}
	}

	rec := entity.StructuredRecord{
		ADA:              ada,
		ExtractedTextRef: textRef,
		RawDocumentRef:   rawRef,
		NormalizedAt:     time.Now().UTC(),
	}

	if v, ok := stringField(env.Fields, "protocolNumber"); ok {
		rec.ProtocolNumber = &v
	}
	if v, ok := dateField(env.Fields, "issueDate"); ok {
		rec.IssueDate = &v
	}
	if v, ok := stringField(env.Fields, "subject"); ok {
		rec.Subject = &v
	}

	if v, ok := stringField(env.Fields, "organizationId"); ok {
		rec.OrganizationID = &v
		if !reOrgID.MatchString(v) {
			rec.FieldFlags = append(rec.FieldFlags, "organizationId:nonconforming")
		}
	}
	rec.UnitIDs = stringSliceField(env.Fields, "unitIds")
	for _, u := range rec.UnitIDs {
		if !reOrgID.MatchString(u) {
			rec.FieldFlags = append(rec.FieldFlags, "unitIds:nonconforming")
			break
		}
	}

	rec.Signatories = stringSliceField(env.Fields, "signerIds")
	if len(rec.Signatories) == 0 {
		rec.Signatories = stringSliceField(env.Fields, "signatories")
	}

	if v, ok := stringField(env.Fields, "decisionTypeId"); ok {
		rec.DecisionType = &v
	} else if v, ok := stringField(env.Fields, "decisionType"); ok {
		rec.DecisionType = &v
	}
	if rec.DecisionType != nil {
		if _, known := decisionTypes[*rec.DecisionType]; !known {
			rec.FieldFlags = append(rec.FieldFlags, "decisionType:unknown")
		}
	}

	rec.FinancialAmounts = amountFields(env.Fields)

	// tag order carries no meaning upstream: dedupe and sort
	rec.ClassificationTags = normalizeTags(stringSliceField(env.Fields, "thematicCategoryIds"))

	rec.Completeness = completeness(rec)

	if err := s.validator.Validate(rec); err != nil {
		return entity.StructuredRecord{}, &ValidationError{Err: fmt.Errorf("record for %s: %w", ada, err)}
	}

	s.Logger.Info("normalize.ok", "ada", ada, "completeness", rec.Completeness, "flags", len(rec.FieldFlags))
	return rec, nil
}

// completeness grades the record: complete needs all five core fields plus a
// text artifact, minimal means nothing beyond the ADA came through.
func completeness(rec entity.StructuredRecord) constants.Completeness {
	core := 0
	if rec.ProtocolNumber != nil {
		core++
	}
	if rec.IssueDate != nil {
		core++
	}
	if rec.Subject != nil {
		core++
	}
	if rec.OrganizationID != nil {
		core++
	}
	if rec.DecisionType != nil {
		core++
	}

	switch {
	case core == 5 && rec.ExtractedTextRef != nil:
		return constants.CompletenessComplete
	case core == 0:
		return constants.CompletenessMinimal
	default:
		return constants.CompletenessPartial
	}
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func stringSliceField(fields map[string]any, key string) []string {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			m := map[string]any{key: item}
			if s, ok := stringField(m, key); ok {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dateField parses the upstream issue date into a timezone-naive ISO calendar
// date. The portal serves epoch millis, ISO timestamps, and dd/MM/yyyy
// depending on endpoint vintage.
func dateField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return "", false
		}
		return time.UnixMilli(int64(t)).UTC().Format("2006-01-02"), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		for _, layout := range []string{"2006-01-02", time.RFC3339, "02/01/2006", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.Format("2006-01-02"), true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// amountFields pulls monetary values from the shapes the portal uses:
// a financialAmounts array, a single awardAmount object, or a bare number
// under extraFieldValues.
func amountFields(fields map[string]any) []entity.FinancialAmount {
	var out []entity.FinancialAmount

	if arr, ok := fields["financialAmounts"].([]any); ok {
		for _, item := range arr {
			if m, ok := item.(map[string]any); ok {
				if a, ok := parseAmount(m["amount"], m["currency"]); ok {
					out = append(out, a)
				}
			}
		}
	}

	if extra, ok := fields["extraFieldValues"].(map[string]any); ok {
		if m, ok := extra["awardAmount"].(map[string]any); ok {
			if a, ok := parseAmount(m["amount"], m["currency"]); ok {
				out = append(out, a)
			}
		} else if a, ok := parseAmount(extra["amountWithVAT"], extra["currency"]); ok {
			out = append(out, a)
		}
	}

	return out
}

// parseAmount normalizes a value to a fixed-point decimal string with two
// fractional digits. Unparsable amounts are dropped, not recorded as zero.
func parseAmount(amount, currency any) (entity.FinancialAmount, bool) {
	var cents int64
	switch t := amount.(type) {
	case float64:
		cents = int64(t*100 + 0.5)
		if t < 0 {
			cents = int64(t*100 - 0.5)
		}
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return entity.FinancialAmount{}, false
		}
		cents = int64(f*100 + 0.5)
		if f < 0 {
			cents = int64(f*100 - 0.5)
		}
	default:
		return entity.FinancialAmount{}, false
	}

	cur := "EUR"
	if c, ok := currency.(string); ok && strings.TrimSpace(c) != "" {
		cur = strings.ToUpper(strings.TrimSpace(c))
	}

	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return entity.FinancialAmount{
		Amount:   fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100),
		Currency: cur,
	}, true
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
