package proxyconf

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

const (
	DefaultListenPort     = 443
	DefaultCertificate    = "/etc/ssl/cloudflare/origin.pem"
	DefaultCertificateKey = "/etc/ssl/cloudflare/origin.key"

	upstreamHost = "localhost"
)

// TemplateParams are the deployment-wide values of every generated server
// block.
type TemplateParams struct {
	ListenPort     int
	Certificate    string
	CertificateKey string
}

func (p TemplateParams) withDefaults() TemplateParams {
	if p.ListenPort <= 0 {
		p.ListenPort = DefaultListenPort
	}
	if strings.TrimSpace(p.Certificate) == "" {
		p.Certificate = DefaultCertificate
	}
	if strings.TrimSpace(p.CertificateKey) == "" {
		p.CertificateKey = DefaultCertificateKey
	}
	return p
}

var serverBlockTmpl = template.Must(template.New("server").Parse(`server {
    listen {{.ListenPort}} ssl;
    server_name {{.Hostname}};

    ssl_certificate {{.Certificate}};
    ssl_certificate_key {{.CertificateKey}};

    location / {
        proxy_pass http://{{.Upstream}}:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header Connection "";

        proxy_buffering off;
        proxy_cache off;
        add_header X-Accel-Buffering no;
        proxy_read_timeout 86400;
    }
}
`))

// RenderServerBlock renders the server block routing hostname to the local
// worker port. Inputs are validated first.
func RenderServerBlock(p TemplateParams, port int, hostname string) (string, error) {
	if err := validateRoute(port, hostname); err != nil {
		return "", err
	}
	p = p.withDefaults()
	var buf bytes.Buffer
	err := serverBlockTmpl.Execute(&buf, struct {
		TemplateParams
		Hostname string
		Upstream string
		Port     int
	}{p, hostname, upstreamHost, port})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

func validateRoute(port int, hostname string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRoute, port)
	}
	return ValidateHostname(hostname)
}

// ValidateHostname reports whether hostname is a plain RFC 1123 host name.
// Anything that could inject proxy directives is rejected.
func ValidateHostname(hostname string) error {
	if hostname == "" || len(hostname) > 253 {
		return fmt.Errorf("%w: hostname %q", ErrInvalidRoute, hostname)
	}
	for _, label := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(label) {
			return fmt.Errorf("%w: hostname %q", ErrInvalidRoute, hostname)
		}
	}
	return nil
}

var proxyPassPort = regexp.MustCompile(`^https?://[^/:\s]+:(\d+)`)

// upstreamPort extracts the port of the first proxy_pass directive in block.
func upstreamPort(block string) int {
	for _, args := range directiveArgs(block, "proxy_pass") {
		if len(args) == 0 {
			continue
		}
		m := proxyPassPort.FindStringSubmatch(args[0])
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}
