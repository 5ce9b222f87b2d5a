package presenter

import (
	"strings"

	"emotion-monitor/internal/domain"
)

// LabelInfo is how one classifier label is displayed.
type LabelInfo struct {
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

const (
	colorAggressive  = "#e74c3c"
	colorLazyNervous = "#f39c12"
	colorNormal      = "#2ecc71"
	colorTired       = "#9b59b6"
	colorUnknown     = "#3498db"
)

var labelCatalog = map[string]LabelInfo{
	"aggressive":   {DisplayName: "Aggressive", Color: colorAggressive},
	"lazy_nervous": {DisplayName: "Lazy/Nervous", Color: colorLazyNervous},
	"lazy":         {DisplayName: "Lazy", Color: colorLazyNervous},
	"nervous":      {DisplayName: "Nervous", Color: colorLazyNervous},
	"normal":       {DisplayName: "Normal", Color: colorNormal},
	"natural":      {DisplayName: "Natural", Color: colorNormal},
	"tired_sleepy": {DisplayName: "Tired/Sleepy", Color: colorTired},
	"tired":        {DisplayName: "Tired", Color: colorTired},
	"sleepy":       {DisplayName: "Sleepy", Color: colorTired},
}

// labelOrder is the fixed distribution order per channel.
var labelOrder = map[domain.Channel][]string{
	domain.ChannelVisual: {"aggressive", "lazy_nervous", "normal", "tired_sleepy"},
	domain.ChannelAudio:  {"aggressive", "nervous", "lazy", "natural"},
}

// Describe returns display info for a label. Unknown labels show verbatim.
func Describe(label string) LabelInfo {
	if info, ok := labelCatalog[strings.ToLower(strings.TrimSpace(label))]; ok {
		return info
	}
	return LabelInfo{DisplayName: label, Color: colorUnknown}
}

// LabelOrder returns the fixed label order of a channel.
func LabelOrder(ch domain.Channel) []string {
	return append([]string(nil), labelOrder[ch]...)
}
