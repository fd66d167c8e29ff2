package registry

import (
	"strconv"
	"strings"
)

// Tag prefixes carried on service registrations. The wire format keeps
// backend metadata inside consul-style tags so any consul-compatible client
// can read it.
const (
	tagImage        = "image-"
	tagAppHostname  = "app-hostname-"
	tagExternalPort = "external-port-"
	tagUser         = "user-"
)

// EncodeTags renders backend metadata as service tags.
func EncodeTags(b Backend) []string {
	tags := []string{
		tagImage + b.ImageID,
		tagAppHostname + b.AppHostname,
		tagExternalPort + strconv.Itoa(b.ExternalPort),
	}
	if b.UserID != "" {
		tags = append(tags, tagUser+b.UserID)
	}
	return tags
}

// DecodeTags fills backend metadata from service tags. Unknown tags are
// ignored.
func DecodeTags(tags []string, b *Backend) {
	for _, t := range tags {
		switch {
		case strings.HasPrefix(t, tagImage):
			b.ImageID = strings.TrimPrefix(t, tagImage)
		case strings.HasPrefix(t, tagAppHostname):
			b.AppHostname = strings.TrimPrefix(t, tagAppHostname)
		case strings.HasPrefix(t, tagExternalPort):
			if n, err := strconv.Atoi(strings.TrimPrefix(t, tagExternalPort)); err == nil {
				b.ExternalPort = n
			}
		case strings.HasPrefix(t, tagUser):
			b.UserID = strings.TrimPrefix(t, tagUser)
		}
	}
}
