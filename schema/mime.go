package schema

import "strings"

// mimeMatches reports whether fileType satisfies one entry of allowed,
// where an entry may be an exact MIME type ("image/png"), a wildcard family
// ("image/*"), or a bare extension ("png", ".png") matched against the file
// name when fileType itself is empty — spec.md §4.3's three-way match rule.
func mimeMatches(fileType, fileName string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ft := strings.ToLower(strings.TrimSpace(fileType))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case strings.HasSuffix(a, "/*"):
			family := strings.TrimSuffix(a, "*")
			if ft != "" && strings.HasPrefix(ft, family) {
				return true
			}
		case strings.Contains(a, "/"):
			if ft != "" && ft == a {
				return true
			}
		default:
			// Bare extension entry: match either against an empty/unknown
			// MIME type or directly against the file name's extension.
			ext := strings.TrimPrefix(a, ".")
			if hasExtension(fileName, ext) {
				return true
			}
		}
	}
	return false
}

func hasExtension(name, ext string) bool {
	name = strings.ToLower(name)
	ext = strings.ToLower(ext)
	return strings.HasSuffix(name, "."+ext)
}

// isImageMIME reports whether fileType is in the image/* family, required
// by the Image schema variant in addition to any explicit Formats list.
func isImageMIME(fileType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(fileType)), "image/")
}
