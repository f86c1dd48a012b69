// Package compat diffs two API specification documents and reports breaking
// changes with a severity taxonomy and a 0-100 compatibility score.
//
// This is a shallow structural diff, not a schema-compatibility proof:
// deeply nested schema changes can produce false negatives. Known
// limitation, kept deliberately.
package compat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/apitize/version-service/internal/canonical"
	"github.com/apitize/version-service/internal/models"
)

const (
	ChangeRemovedEndpoint    = "removed-endpoint"
	ChangeRemovedMethod      = "removed-method"
	ChangeResponseFormat     = "changed-response-format"
	ChangeAddedRequiredParam = "added-required-param"
	ChangeParamType          = "changed-param-type"
	WarningAddedEndpoint     = "added-endpoint"
	WarningAddedMethod       = "added-method"
)

func deduction(sev models.Severity) int {
	switch sev {
	case models.SeverityCritical:
		return 25
	case models.SeverityHigh:
		return 15
	case models.SeverityMedium:
		return 10
	case models.SeverityLow:
		return 5
	}
	return 0
}

// ParseSpec parses a raw specification document.
func ParseSpec(data []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSpecification, err)
	}
	return doc, nil
}

// Compare diffs from -> to and builds a compatibility report. Breaking
// changes deduct from the score by severity; warnings never do, and never
// affect Compatible.
func Compare(apiID, fromVersion, toVersion string, from, to *openapi3.T) models.CompatibilityReport {
	report := models.CompatibilityReport{
		APIID:       apiID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		GeneratedAt: time.Now().UTC(),
	}

	fromPaths := pathMap(from)
	toPaths := pathMap(to)

	for path, fromItem := range fromPaths {
		toItem, exists := toPaths[path]
		if !exists {
			report.BreakingChanges = append(report.BreakingChanges, models.BreakingChange{
				Type:       ChangeRemovedEndpoint,
				Path:       path,
				Severity:   models.SeverityCritical,
				Impact:     fmt.Sprintf("endpoint %s was removed; all callers of it will fail", path),
				Mitigation: "restore the endpoint or migrate callers before upgrading",
			})
			continue
		}
		for method, fromOp := range fromItem.Operations() {
			toOp := toItem.GetOperation(method)
			if toOp == nil {
				report.BreakingChanges = append(report.BreakingChanges, models.BreakingChange{
					Type:       ChangeRemovedMethod,
					Path:       path,
					Method:     method,
					Severity:   models.SeverityCritical,
					Impact:     fmt.Sprintf("%s %s was removed", method, path),
					Mitigation: "migrate callers to a replacement operation",
				})
				continue
			}
			report.BreakingChanges = append(report.BreakingChanges, diffOperation(path, method, fromOp, toOp)...)
		}
		for method := range toItem.Operations() {
			if fromItem.GetOperation(method) == nil {
				report.Warnings = append(report.Warnings, models.CompatibilityWarning{
					Type:   WarningAddedMethod,
					Path:   path,
					Method: method,
					Detail: fmt.Sprintf("%s %s was added", method, path),
				})
			}
		}
	}

	for path := range toPaths {
		if _, exists := fromPaths[path]; !exists {
			report.Warnings = append(report.Warnings, models.CompatibilityWarning{
				Type:   WarningAddedEndpoint,
				Path:   path,
				Detail: fmt.Sprintf("endpoint %s was added", path),
			})
		}
	}

	score := 100
	for _, bc := range report.BreakingChanges {
		score -= deduction(bc.Severity)
	}
	if score < 0 {
		score = 0
	}
	report.Score = score
	report.Compatible = len(report.BreakingChanges) == 0
	return report
}

func pathMap(doc *openapi3.T) map[string]*openapi3.PathItem {
	if doc == nil || doc.Paths == nil {
		return map[string]*openapi3.PathItem{}
	}
	return doc.Paths.Map()
}

func diffOperation(path, method string, fromOp, toOp *openapi3.Operation) []models.BreakingChange {
	var changes []models.BreakingChange

	// Success-response shape, compared on canonicalized JSON so key order
	// cannot produce a spurious difference.
	fromShape, fromOK := successResponseShape(fromOp)
	toShape, toOK := successResponseShape(toOp)
	if fromOK && (!toOK || !bytes.Equal(fromShape, toShape)) {
		changes = append(changes, models.BreakingChange{
			Type:       ChangeResponseFormat,
			Path:       path,
			Method:     method,
			Severity:   models.SeverityHigh,
			Impact:     fmt.Sprintf("success response of %s %s changed shape", method, path),
			Mitigation: "version the response payload or keep removed fields populated",
		})
	}

	fromParams := paramMap(fromOp.Parameters)
	for _, ref := range toOp.Parameters {
		p := ref.Value
		if p == nil {
			continue
		}
		key := p.Name + ":" + p.In
		old, existed := fromParams[key]
		if p.Required && !existed {
			changes = append(changes, models.BreakingChange{
				Type:       ChangeAddedRequiredParam,
				Path:       path,
				Method:     method,
				Severity:   models.SeverityHigh,
				Impact:     fmt.Sprintf("required parameter %q (%s) was added to %s %s", p.Name, p.In, method, path),
				Mitigation: "make the parameter optional with a default",
			})
			continue
		}
		if existed {
			oldType := schemaType(old.Schema)
			newType := schemaType(p.Schema)
			if oldType != "" && newType != "" && oldType != newType {
				changes = append(changes, models.BreakingChange{
					Type:     ChangeParamType,
					Path:     path,
					Method:   method,
					Severity: models.SeverityMedium,
					Impact:   fmt.Sprintf("parameter %q type changed from %s to %s", p.Name, oldType, newType),
				})
			}
		}
	}

	return changes
}

// successResponseShape returns canonical JSON of the operation's 200
// response, and whether one is declared.
func successResponseShape(op *openapi3.Operation) ([]byte, bool) {
	if op == nil || op.Responses == nil {
		return nil, false
	}
	resp := op.Responses.Value("200")
	if resp == nil || resp.Value == nil {
		return nil, false
	}
	raw, err := json.Marshal(resp.Value)
	if err != nil {
		return nil, false
	}
	shape, err := canonical.Canonicalize(raw)
	if err != nil {
		return nil, false
	}
	return shape, true
}

func paramMap(params openapi3.Parameters) map[string]*openapi3.Parameter {
	m := make(map[string]*openapi3.Parameter)
	for _, ref := range params {
		if ref.Value != nil {
			m[ref.Value.Name+":"+ref.Value.In] = ref.Value
		}
	}
	return m
}

func schemaType(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil {
		return ""
	}
	types := ref.Value.Type.Slice()
	if len(types) == 0 {
		return ""
	}
	return types[0]
}
