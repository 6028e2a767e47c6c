package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// ClientInfo is what the payment audit records about the caller
type ClientInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, bot, server
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

// ParseClient parses a User-Agent header
func ParseClient(userAgent string) ClientInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return ClientInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	info := ClientInfo{
		IsBot:   parser.Bot(),
		OS:      osName(parser),
		Browser: browserName(parser),
	}

	switch {
	case isServerClient(userAgent):
		// Processor webhooks and SDKs; checked first since the parser flags them as bots
		info.DeviceType = "server"
	case info.IsBot:
		info.DeviceType = "bot"
	case parser.Mobile() && isTablet(userAgent):
		info.DeviceType = "tablet"
	case parser.Mobile():
		info.DeviceType = "mobile"
	default:
		info.DeviceType = "desktop"
	}
	return info
}

// String renders a compact descriptor such as "desktop/Chrome/Windows 10"
func (c ClientInfo) String() string {
	return c.DeviceType + "/" + c.Browser + "/" + c.OS
}

// ClientDescriptor is shorthand for ParseClient(userAgent).String()
func ClientDescriptor(userAgent string) string {
	return ParseClient(userAgent).String()
}

func isServerClient(userAgent string) bool {
	l := strings.ToLower(userAgent)
	for _, marker := range []string{"stripe/", "go-http-client", "curl/", "python-requests"} {
		if strings.Contains(l, marker) {
			return true
		}
	}
	return false
}

func isTablet(userAgent string) bool {
	l := strings.ToLower(userAgent)
	for _, indicator := range []string{"ipad", "tablet", "kindle", "sm-t"} {
		if strings.Contains(l, indicator) {
			return true
		}
	}
	return false
}

func osName(parser *ua.UserAgent) string {
	info := parser.OSInfo()
	if info.Name == "" {
		return "Unknown"
	}
	if info.Version != "" {
		return info.Name + " " + info.Version
	}
	return info.Name
}

func browserName(parser *ua.UserAgent) string {
	name, _ := parser.Browser()
	if name == "" {
		return "Unknown"
	}
	return name
}
