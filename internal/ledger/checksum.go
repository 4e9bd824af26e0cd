// Package ledger ingests raw financial filings into the append-only raw
// ledger, deduplicating on a content checksum.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

type checksumInput struct {
	CompanyCode string             `json:"company_code"`
	Period      string             `json:"period"`
	Source      string             `json:"source"`
	Payload     map[string]float64 `json:"payload"`
}

// Checksum returns the hex sha256 of the canonical JSON encoding of
// {company_code, period, source, payload}. Map keys encode sorted, so equal
// payloads hash equally regardless of construction order.
func Checksum(companyCode, source, period string, payload map[string]float64) (string, error) {
	if payload == nil {
		payload = map[string]float64{}
	}
	data, err := json.Marshal(checksumInput{
		CompanyCode: companyCode,
		Period:      period,
		Source:      source,
		Payload:     payload,
	})
	if err != nil {
		return "", eris.Wrap(err, "ledger: encode checksum input")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
