package lookup

import (
	"encoding/json"
	"fmt"
	"io"
)

// Response shape of the vulnerability database's keyword search (NVD 2.0 API)

type searchResponse struct {
	TotalResults    int               `json:"totalResults"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

type vulnerability struct {
	CVE cveItem `json:"cve"`
}

type cveItem struct {
	ID           string        `json:"id"`
	Published    string        `json:"published"`
	Descriptions []description `json:"descriptions"`
	Metrics      metrics       `json:"metrics"`
}

type description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type metrics struct {
	CVSSMetricV31 []cvssMetric `json:"cvssMetricV31"`
	CVSSMetricV30 []cvssMetric `json:"cvssMetricV30"`
	CVSSMetricV2  []cvssMetric `json:"cvssMetricV2"`
}

type cvssMetric struct {
	CVSSData     cvssData `json:"cvssData"`
	BaseSeverity string   `json:"baseSeverity"`
}

type cvssData struct {
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

func decodeResponse(body io.Reader) ([]CVERecord, error) {
	var resp searchResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}

	records := make([]CVERecord, 0, len(resp.Vulnerabilities))
	for _, raw := range resp.Vulnerabilities {
		var vuln vulnerability
		if err := json.Unmarshal(raw, &vuln); err != nil {
			return nil, fmt.Errorf("failed to decode vulnerability record: %w", err)
		}
		if vuln.CVE.ID == "" {
			continue
		}

		record := CVERecord{
			ID:        vuln.CVE.ID,
			Published: vuln.CVE.Published,
			Raw:       raw,
		}

		for _, d := range vuln.CVE.Descriptions {
			if d.Lang == "en" {
				record.Description = d.Value
				break
			}
		}

		if metric, ok := bestMetric(vuln.CVE.Metrics); ok {
			record.CVSSScore = metric.CVSSData.BaseScore
			record.Severity = metric.CVSSData.BaseSeverity
			if record.Severity == "" {
				record.Severity = metric.BaseSeverity
			}
		}

		records = append(records, record)
	}

	return records, nil
}

// bestMetric prefers the newest CVSS version present on the record
func bestMetric(m metrics) (cvssMetric, bool) {
	if len(m.CVSSMetricV31) > 0 {
		return m.CVSSMetricV31[0], true
	}
	if len(m.CVSSMetricV30) > 0 {
		return m.CVSSMetricV30[0], true
	}
	if len(m.CVSSMetricV2) > 0 {
		return m.CVSSMetricV2[0], true
	}
	return cvssMetric{}, false
}
