package gong

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed demo
var demoFS embed.FS

// ContextFile is an extra file placed in the sandbox in demo mode.
type ContextFile struct {
	Path        string
	Content     string
	Description string
}

var demoContext = []struct {
	sandboxPath string
	description string
}{
	{"gong-calls/previous/demo-call-000-discovery-call.md", "Previous discovery call"},
	{"gong-calls/previous/demo-call-intro-initial-call.md", "Initial intro call"},
	{"salesforce/account.md", "Salesforce account"},
	{"salesforce/opportunity.md", "Salesforce opportunity"},
	{"salesforce/contacts.md", "Salesforce contacts"},
	{"research/company-research.md", "Company research"},
	{"research/competitive-intel.md", "Competitive intel"},
	{"playbooks/sales-playbook.md", "Sales playbook"},
}

// DemoWebhook returns the embedded demo call.
func DemoWebhook() (Webhook, error) {
	var w Webhook
	if err := loadDemoJSON("demo/webhook-data.json", &w); err != nil {
		return Webhook{}, err
	}
	return w, nil
}

// DemoTranscript returns the embedded transcript for the demo call.
func DemoTranscript() (TranscriptResponse, error) {
	var t TranscriptResponse
	if err := loadDemoJSON("demo/transcript.json", &t); err != nil {
		return TranscriptResponse{}, err
	}
	return t, nil
}

// DemoContextFiles returns previous calls, CRM records and research notes
// for the demo account.
func DemoContextFiles() ([]ContextFile, error) {
	files := make([]ContextFile, 0, len(demoContext))
	for _, f := range demoContext {
		data, err := demoFS.ReadFile("demo/context/" + f.sandboxPath)
		if err != nil {
			return nil, fmt.Errorf("gong: read demo file %q: %w", f.sandboxPath, err)
		}
		files = append(files, ContextFile{
			Path:        f.sandboxPath,
			Content:     string(data),
			Description: f.description,
		})
	}
	return files, nil
}

func loadDemoJSON(name string, v any) error {
	data, err := demoFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("gong: read demo file %q: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("gong: parse demo file %q: %w", name, err)
	}
	return nil
}
