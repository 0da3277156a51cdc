package surface

import "strings"

// Detector picks the surface for a client environment string.
type Detector interface {
	Detect(env string) DocumentSurface
}

// UserAgentDetector chooses Embed for mobile Safari and Android browsers.
type UserAgentDetector struct {
	Inline DocumentSurface
	Embed  DocumentSurface
}

var mobileTokens = []string{"iPhone", "iPad", "iPod", "Android"}

func NewUserAgentDetector() UserAgentDetector {
	return UserAgentDetector{
		Inline: NewInlineFrameSurface(),
		Embed:  NewEmbedFallbackSurface(),
	}
}

func (d UserAgentDetector) Detect(userAgent string) DocumentSurface {
	for _, tok := range mobileTokens {
		if strings.Contains(userAgent, tok) {
			return d.Embed
		}
	}
	return d.Inline
}
