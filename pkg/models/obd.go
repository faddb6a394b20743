package models

// OBDCode describes a standard On-Board-Diagnostics trouble code.
type OBDCode struct {
	Code         string   `yaml:"code"          json:"code"`
	Title        string   `yaml:"title"         json:"title"`
	System       string   `yaml:"system"        json:"system"`
	Description  string   `yaml:"description"   json:"description"`
	CommonCauses []string `yaml:"common_causes" json:"commonCauses"`
	CommonFixes  []string `yaml:"common_fixes"  json:"commonFixes"`
	Severity     string   `yaml:"severity"      json:"severity"`
	Urgency      string   `yaml:"urgency"       json:"urgency"`
}
