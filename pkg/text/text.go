package text

import (
	"crypto/x509"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// AppToken extracts the Bitable app token from a base URL, e.g.
// https://example.feishu.cn/base/QgT7bDwYkaaBzKsZLQqcbRyXnPd or the wiki
// flavour of the same link.
func AppToken(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if (part == "base" || part == "wiki") && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("no app token in URL: %q", rawURL)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ProcessText flattens a field value to a single CSV-safe line.
func ProcessText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func HumanizeCertificates(certs []*x509.Certificate) string {
	var descriptions []string
	for _, cert := range certs {
		subjectCN := cert.Subject.CommonName
		issuerCN := cert.Issuer.CommonName
		expiry := cert.NotAfter.Format("2006-01-02")

		description := fmt.Sprintf("CN=%s (Issuer CN=%s, expires %s)", subjectCN, issuerCN, expiry)
		descriptions = append(descriptions, description)
	}
	return strings.Join(descriptions, ", ")
}
