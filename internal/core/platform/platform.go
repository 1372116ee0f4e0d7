// Package platform classifies source URLs into the platform they belong to.
package platform

import (
	"net/url"
	"strings"
)

// Platform identifies a supported social-media site
type Platform string

const (
	YouTube   Platform = "youtube"
	Instagram Platform = "instagram"
	TikTok    Platform = "tiktok"
	Snapchat  Platform = "snapchat"
	Twitter   Platform = "twitter"
	Unknown   Platform = "unknown"
)

// fragment is one domain pattern. Host-only fragments are compared against the
// parsed hostname instead of the whole input.
type fragment struct {
	pattern  string
	hostOnly bool
}

type entry struct {
	platform  Platform
	fragments []fragment
}

// table is checked top to bottom; when fragments of two platforms could both
// match a URL, the earlier entry wins.
var table = []entry{
	{YouTube, []fragment{{pattern: "youtube.com"}, {pattern: "youtu.be"}, {pattern: "youtube-nocookie.com"}}},
	{Instagram, []fragment{{pattern: "instagram.com"}, {pattern: "instagr.am"}}},
	{TikTok, []fragment{{pattern: "tiktok.com"}}},
	{Snapchat, []fragment{{pattern: "snapchat.com"}}},
	{Twitter, []fragment{{pattern: "twitter.com"}, {pattern: "x.com", hostOnly: true}}},
}

// Classify maps a URL to a platform. It never fails: inputs that match no
// fragment, including ones that are not URLs at all, yield Unknown.
func Classify(rawURL string) Platform {
	lower := strings.ToLower(rawURL)
	host := hostOf(lower)

	for _, e := range table {
		for _, f := range e.fragments {
			if f.hostOnly {
				if host == f.pattern || strings.HasSuffix(host, "."+f.pattern) {
					return e.platform
				}
				continue
			}
			if strings.Contains(lower, f.pattern) {
				return e.platform
			}
		}
	}
	return Unknown
}

func hostOf(lower string) string {
	u, err := url.Parse(lower)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// All returns every known platform except Unknown, in table order
func All() []Platform {
	out := make([]Platform, 0, len(table))
	for _, e := range table {
		out = append(out, e.platform)
	}
	return out
}

// Parse converts a platform tag back into a Platform. Unrecognised tags map to Unknown.
func Parse(tag string) Platform {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, e := range table {
		if string(e.platform) == tag {
			return e.platform
		}
	}
	return Unknown
}

func (p Platform) String() string { return string(p) }
