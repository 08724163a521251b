package scanner

import (
	"encoding/xml"
	"fmt"
)

// XML report shape produced by the tool's -oX output

type xmlRun struct {
	XMLName xml.Name  `xml:"nmaprun"`
	Hosts   []xmlHost `xml:"host"`
}

type xmlHost struct {
	Ports xmlPorts `xml:"ports"`
	OS    xmlOS    `xml:"os"`
}

type xmlPorts struct {
	Ports []xmlPort `xml:"port"`
}

type xmlPort struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   int         `xml:"portid,attr"`
	State    xmlState    `xml:"state"`
	Service  xmlService  `xml:"service"`
	Scripts  []xmlScript `xml:"script"`
}

type xmlState struct {
	State string `xml:"state,attr"`
}

type xmlService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
}

type xmlScript struct {
	ID     string `xml:"id,attr"`
	Output string `xml:"output,attr"`
}

type xmlOS struct {
	Matches []xmlOSMatch `xml:"osmatch"`
}

type xmlOSMatch struct {
	Name     string `xml:"name,attr"`
	Accuracy int    `xml:"accuracy,attr"`
}

// ParseReport parses the tool's XML report. Ports that are not open are
// dropped; script outputs become vulnerability findings.
func ParseReport(data []byte) (*Report, error) {
	var run xmlRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("invalid scan report XML: %w", err)
	}

	report := &Report{}

	for _, host := range run.Hosts {
		if report.OSGuess == "" && len(host.OS.Matches) > 0 {
			best := host.OS.Matches[0]
			for _, m := range host.OS.Matches[1:] {
				if m.Accuracy > best.Accuracy {
					best = m
				}
			}
			report.OSGuess = best.Name
		}

		for _, port := range host.Ports.Ports {
			if port.State.State != "open" {
				continue
			}

			service := port.Service.Name
			if port.Service.Product != "" {
				service = port.Service.Product
			}

			report.Ports = append(report.Ports, PortFinding{
				Port:     port.PortID,
				Protocol: port.Protocol,
				State:    port.State.State,
				Service:  service,
				Version:  port.Service.Version,
			})

			for _, script := range port.Scripts {
				report.Findings = append(report.Findings, VulnFinding{
					Port:     port.PortID,
					Protocol: port.Protocol,
					Script:   script.ID,
					Output:   script.Output,
				})
			}
		}
	}

	return report, nil
}
