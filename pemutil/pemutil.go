// Package pemutil implements the PEM Codec: normalization and validation
// of PEM-encoded certificates and private keys (spec §4.1).
package pemutil

import (
	"encoding/base64"
	"strings"

	berrors "github.com/ota-server/updateserver/errors"
)

const wrapWidth = 64

var privateKeyLabels = map[string]bool{
	"PRIVATE KEY":     true,
	"RSA PRIVATE KEY": true,
	"EC PRIVATE KEY":  true,
}

// NormalizeCertificate normalizes a PEM-encoded certificate: the only
// accepted marker pair is BEGIN/END CERTIFICATE.
func NormalizeCertificate(pem string) (string, error) {
	return normalize(pem, func(label string) bool { return label == "CERTIFICATE" })
}

// NormalizePrivateKey normalizes a PEM-encoded private key. Any of
// PRIVATE KEY, RSA PRIVATE KEY, or EC PRIVATE KEY is accepted.
func NormalizePrivateKey(pem string) (string, error) {
	return normalize(pem, func(label string) bool { return privateKeyLabels[label] })
}

// normalize implements the shared trim/extract/re-wrap/round-trip-validate
// pipeline described in spec §4.1.
func normalize(in string, labelAccepted func(string) bool) (string, error) {
	s := strings.TrimSpace(in)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = collapseBlankRuns(s)

	beginIdx := strings.Index(s, "-----BEGIN ")
	if beginIdx < 0 {
		return "", berrors.ValidationError("pem: missing header marker")
	}
	headerLineEnd := strings.Index(s[beginIdx:], "-----\n")
	if headerLineEnd < 0 {
		headerLineEnd = strings.Index(s[beginIdx:], "-----")
		if headerLineEnd < 0 {
			return "", berrors.ValidationError("pem: malformed header marker")
		}
		headerLineEnd += len("-----")
	} else {
		headerLineEnd += len("-----\n")
	}
	header := s[beginIdx : beginIdx+headerLineEnd]
	label := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(header), "-----BEGIN "), "-----")
	label = strings.TrimSpace(label)

	if !labelAccepted(label) {
		return "", berrors.ValidationError("pem: unrecognized or unacceptable label %q", label)
	}

	footerMarker := "-----END " + label + "-----"
	footerIdx := strings.Index(s, footerMarker)
	if footerIdx < 0 {
		return "", berrors.ValidationError("pem: missing footer marker for label %q", label)
	}

	bodyStart := beginIdx + headerLineEnd
	if bodyStart > footerIdx {
		return "", berrors.ValidationError("pem: malformed structure, header after footer")
	}
	body := s[bodyStart:footerIdx]
	body = stripWhitespace(body)

	if body == "" {
		return "", berrors.ValidationError("pem: empty body")
	}

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", berrors.ValidationError("pem: body is not valid base64: %s", err)
	}

	rewrapped := wrap(base64.StdEncoding.EncodeToString(decoded), wrapWidth)

	var out strings.Builder
	out.WriteString("-----BEGIN ")
	out.WriteString(label)
	out.WriteString("-----\n")
	out.WriteString(rewrapped)
	out.WriteString("\n-----END ")
	out.WriteString(label)
	out.WriteString("-----\n")
	return out.String(), nil
}

func collapseBlankRuns(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func wrap(s string, width int) string {
	if len(s) <= width {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i += width {
		end := i + width
		if end > len(s) {
			end = len(s)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}
