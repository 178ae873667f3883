package services

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SafetyRules are the deny lists used by the URL safety pipeline. Empty sections in a rules
// file keep the built-in defaults.
type SafetyRules struct {
	DomainBlacklist      []string `yaml:"domain_blacklist"`
	ContentTypeBlacklist []string `yaml:"content_type_blacklist"`
	MaliciousPatterns    []string `yaml:"malicious_patterns"`
	PrivateIPRanges      []string `yaml:"private_ip_ranges"`
}

func DefaultSafetyRules() SafetyRules {
	return SafetyRules{
		DomainBlacklist: []string{
			"malware.com", "virus.net", "phishing.org", "spamlink.info", "suspicious-site.biz",
			"test-malware-site.com", "fake-bank-login.net",
			"secure-login.net", "account-verification.com", "paypal-secure-login.com",
			"bankofamerica-login.net", "chase-online-login.com", "wellsfargo-secure.net",
			"download-free-software.net", "crack-software.com", "pirated-software.org",
			"keygen-site.com", "warez-download.net",
			// Other shorteners, to prevent double shortening.
			"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "buff.ly", "adf.ly", "is.gd", "v.gd", "shorte.st",
			"casino-online.net", "adult-content-site.com",
		},
		ContentTypeBlacklist: []string{
			"application/x-msdownload", "application/x-executable", "application/x-dosexec",
			"application/x-msdos-program", "application/octet-stream",
			"application/zip", "application/x-rar-compressed", "application/x-7z-compressed",
			"application/x-tar", "application/gzip", "application/x-bzip2", "application/x-lzip",
			"application/x-lzma", "application/x-xz",
			"application/x-msi", "application/x-deb", "application/x-rpm",
			"application/vnd.android.package-archive",
			"application/x-javascript", "application/javascript", "text/javascript",
			"application/x-perl", "application/x-python-code", "application/x-ruby", "application/x-shellscript",
			"application/x-shockwave-flash", "application/vnd.ms-powerpoint", "application/vnd.ms-excel",
			"application/msword",
			"application/x-java-archive", "application/java-archive", "application/x-sharedlib",
			"application/x-mach-binary",
		},
		MaliciousPatterns: []string{
			// Brand impersonation
			`(?i)\b(?:login|signin|secure|account|verify|confirm|update|auth|portal)\b.*(?:paypal|ebay|amazon|bank|google|facebook|twitter|instagram|apple|microsoft|netflix|spotify)\b`,
			// Script injection through redirect parameters
			`(?i)(?:redirect|url|return|next|continue|callback|referer)=.*(?:javascript|data|vbscript|onload|onerror|eval|alert):`,
			// IP literal hosts
			`https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d+)?(?:/|$)`,
			`(?i)(?:malware|virus|trojan|ransomware|spyware|keylogger|backdoor|rootkit|exploit)\.`,
			// High-risk TLDs
			`(?i)\.(?:xyz|tk|ml|ga|cf|gq|work|click|link|top|win|bid|download|review|party|pro|club|online|site|space|website|tech|store|live|fun|host|icu|monster|buzz|digital|network|systems|email|solutions|services|agency|company|center|world|zone)\b`,
			// Nested shorteners
			`(?i)(?:bit\.ly|tinyurl\.com|goo\.gl|t\.co|ow\.ly|buff\.ly|adf\.ly|is\.gd|v\.gd|shorte\.st|tiny\.cc|cli\.gs|qr\.ae|1url\.com|tiny\.pl|prettylinkpro\.com|shrink\.me|short\.ie|short\.to|url\.ie|to\.ly|lnkd\.in|db\.tt|wp\.me|ift\.tt|tiny\.ly|tr\.im|su\.pr|ht\.ly|fb\.me|twitthis\.com|u\.to|j\.mp|buzurl\.com|cutt\.us|u\.bb|yourls\.org|polr\.me|urlshortener\.site)/`,
			`(?i)(?:free|crack|hack|porn|sex|casino|gambling|drugs|pharmacy|viagra|cialis|lottery|winner|prize|millionaire|inheritance|scam|fraud)\.`,
			// Homograph characters
			`(?i)[а-яё]`,
			`(?i)[α-ω]`,
			`(?i)(?:data:text/html;base64,|javascript:.*base64,)`,
			// SQL and script injection
			`(?i)(?:union.*select|script.*alert|onload.*alert|onerror.*alert)`,
			// Command injection
			`(?i)(?:\$\{.*\}|%7B.*%7D|eval\(|exec\(|system\()`,
			// Social engineering
			`(?i)(?:urgent|immediate|action.required|account.suspended|security.alert|verify.your.account)`,
		},
		PrivateIPRanges: []string{
			"127.0.0.0/8",
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
			"169.254.0.0/16",
			"0.0.0.0/8",
			"::1/128",
			"fc00::/7",
			"fe80::/10",
		},
	}
}

// LoadSafetyRules reads a YAML rules file. An empty path returns the defaults.
func LoadSafetyRules(path string) (SafetyRules, error) {
	rules := DefaultSafetyRules()
	if path == "" {
		return rules, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read safety rules: %w", err)
	}

	var override SafetyRules
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return rules, fmt.Errorf("parse safety rules: %w", err)
	}

	if len(override.DomainBlacklist) > 0 {
		rules.DomainBlacklist = override.DomainBlacklist
	}
	if len(override.ContentTypeBlacklist) > 0 {
		rules.ContentTypeBlacklist = override.ContentTypeBlacklist
	}
	if len(override.MaliciousPatterns) > 0 {
		rules.MaliciousPatterns = override.MaliciousPatterns
	}
	if len(override.PrivateIPRanges) > 0 {
		rules.PrivateIPRanges = override.PrivateIPRanges
	}
	return rules, nil
}

type compiledRules struct {
	domains      map[string]struct{}
	contentTypes map[string]struct{}
	patterns     []*regexp.Regexp
	ranges       []netip.Prefix
}

func normalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return strings.TrimPrefix(host, "www.")
}

func (r SafetyRules) compile() (*compiledRules, error) {
	c := &compiledRules{
		domains:      make(map[string]struct{}, len(r.DomainBlacklist)),
		contentTypes: make(map[string]struct{}, len(r.ContentTypeBlacklist)),
	}
	for _, d := range r.DomainBlacklist {
		c.domains[normalizeDomain(d)] = struct{}{}
	}
	for _, ct := range r.ContentTypeBlacklist {
		c.contentTypes[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}
	for _, p := range r.MaliciousPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid malicious pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	for _, cidr := range r.PrivateIPRanges {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid private range %q: %w", cidr, err)
		}
		c.ranges = append(c.ranges, prefix)
	}
	return c, nil
}

func (c *compiledRules) isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() {
		return true
	}
	for _, p := range c.ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
