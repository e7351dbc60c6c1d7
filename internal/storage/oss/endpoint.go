package oss

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/newthinker/dataview/internal/storage"
)

// DefaultRegion is used when the region cannot be inferred from the host.
const DefaultRegion = "cn-hangzhou"

const scheme = "oss://"

// Style is the addressing shape an endpoint URL was written in.
type Style int

const (
	StyleUnknown       Style = iota
	StyleShort                // oss://oss-cn-hangzhou.aliyuncs.com/bucket
	StyleVirtualHosted        // https://bucket.oss-cn-hangzhou.aliyuncs.com
	StylePathStyle            // https://oss-cn-hangzhou.aliyuncs.com/bucket/key
)

func (s Style) String() string {
	switch s {
	case StyleShort:
		return "short"
	case StyleVirtualHosted:
		return "virtual-hosted"
	case StylePathStyle:
		return "path-style"
	default:
		return "unknown"
	}
}

// Guess is what ParseEndpoint could infer from a user-supplied URL.
// Empty fields were not inferable.
type Guess struct {
	Style    Style
	Endpoint string // scheme://host, or the raw input for StyleUnknown
	Host     string
	Bucket   string
	Region   string
}

var (
	regionPattern = regexp.MustCompile(`oss-([^.]+)`)
	slashRun      = regexp.MustCompile(`/+`)
)

// ParseEndpoint infers endpoint, bucket and region from the three
// accepted URL shapes. It never fails; unrecognized input comes back as
// StyleUnknown with the raw string as Endpoint.
func ParseEndpoint(raw string) Guess {
	raw = strings.TrimSpace(raw)

	if rest, ok := strings.CutPrefix(raw, scheme); ok {
		host, bucketPath, _ := strings.Cut(rest, "/")
		bucket, _, _ := strings.Cut(bucketPath, "/")
		return Guess{
			Style:    StyleShort,
			Endpoint: "https://" + host,
			Host:     host,
			Bucket:   bucket,
			Region:   inferRegion(host),
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Guess{Style: StyleUnknown, Endpoint: raw}
	}

	host := u.Hostname()
	base := u.Scheme + "://" + host

	switch {
	case strings.Contains(host, ".oss-"):
		bucket, _, _ := strings.Cut(host, ".")
		return Guess{
			Style:    StyleVirtualHosted,
			Endpoint: base,
			Host:     host,
			Bucket:   bucket,
			Region:   inferRegion(host),
		}
	case strings.HasPrefix(host, "oss-") || strings.Contains(host, "aliyuncs.com"):
		var bucket string
		if segs := segments(u.Path); len(segs) > 0 {
			bucket = segs[0]
		}
		return Guess{
			Style:    StylePathStyle,
			Endpoint: base,
			Host:     host,
			Bucket:   bucket,
			Region:   inferRegion(host),
		}
	}

	return Guess{Style: StyleUnknown, Endpoint: raw, Host: host}
}

func inferRegion(host string) string {
	if !strings.Contains(host, "oss-") {
		return ""
	}
	if m := regionPattern.FindStringSubmatch(host); m != nil {
		return m[1]
	}
	return ""
}

// NormalizeEndpoint rewrites endpoint into virtual-hosted form,
// https://<bucket>.<service-host>. An endpoint whose host already starts
// with the bucket label is returned unchanged. The bool is false when the
// host is not a recognized service host and endpoint was kept verbatim.
func NormalizeEndpoint(endpoint, bucket, region string) (string, bool) {
	fallback := fmt.Sprintf("https://%s.oss-%s.aliyuncs.com", bucket, region)

	ep := endpoint
	if rest, ok := strings.CutPrefix(ep, scheme); ok {
		ep = "https://" + rest
	}

	u, err := url.Parse(ep)
	if err != nil || u.Host == "" {
		return fallback, true
	}

	host := u.Hostname()
	if strings.HasPrefix(host, bucket+".") {
		return ep, true
	}
	path := strings.TrimSuffix(u.Path, "/")
	if i := strings.Index(u.Host, ".oss-"); i >= 0 {
		// virtual-hosted for a different bucket: swap the leading label
		return u.Scheme + "://" + bucket + u.Host[i:] + path, true
	}
	if strings.HasPrefix(host, "oss-") || strings.Contains(host, "aliyuncs.com") {
		return u.Scheme + "://" + bucket + "." + u.Host + path, true
	}
	return ep, false
}

// objectKey strips leading slashes and collapses repeated slashes.
func objectKey(path string) string {
	return slashRun.ReplaceAllString(strings.TrimLeft(path, "/"), "/")
}

// Address builds the canonical address oss://<bucket>/<key>.
func Address(bucket, path string) string {
	key := objectKey(path)
	if key == "" {
		return scheme + bucket
	}
	return scheme + bucket + "/" + key
}

// ObjectKeyFromAddress extracts the bare object key from a canonical
// address (oss://bucket/key), a short address (oss://host/bucket/key), a
// virtual-hosted URL or a path-style URL. Anything else only has its
// leading slashes removed, which is best effort.
func ObjectKeyFromAddress(addr string) string {
	if rest, ok := strings.CutPrefix(addr, scheme); ok {
		parts := strings.Split(rest, "/")
		skip := 1
		// OSS bucket names have no dots, so a dotted first segment is a
		// host. S3 buckets may have dots; use ObjectKeyInBucket for those.
		if strings.Contains(parts[0], ".") {
			skip = 2
		}
		if len(parts) <= skip {
			return ""
		}
		return strings.Join(parts[skip:], "/")
	}

	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		if u, err := url.Parse(addr); err == nil {
			host := u.Hostname()
			switch {
			case strings.Contains(host, ".oss-"):
				return strings.TrimLeft(u.Path, "/")
			case strings.HasPrefix(host, "oss-") || strings.Contains(host, "aliyuncs.com"):
				segs := segments(u.Path)
				if len(segs) > 1 {
					return strings.Join(segs[1:], "/")
				}
				return ""
			}
		}
	}

	return strings.TrimLeft(addr, "/")
}

// ObjectKeyInBucket extracts the key of addr when the session bucket is
// known. The exact oss://<bucket>/ prefix is stripped, so buckets with
// dots in their name are never mistaken for a short-form host. Other
// address forms go through ObjectKeyFromAddress.
func ObjectKeyInBucket(addr, bucket string) string {
	if bucket != "" {
		prefix := scheme + bucket
		if rest, ok := strings.CutPrefix(addr, prefix); ok && (rest == "" || rest[0] == '/') {
			return strings.TrimPrefix(rest, "/")
		}
	}
	return ObjectKeyFromAddress(addr)
}

// ConnectionName generates a default name such as OSS(bucket-aliyuncs.com).
func ConnectionName(cfg storage.ConnectionConfig) string {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return "OSS"
	}

	if rest, ok := strings.CutPrefix(raw, scheme); ok {
		host, bucketPath, _ := strings.Cut(rest, "/")
		bucket, _, _ := strings.Cut(bucketPath, "/")
		if host != "" && bucket != "" {
			return fmt.Sprintf("OSS(%s-%s)", bucket, topLevelDomain(host))
		}
		return fmt.Sprintf("OSS(%s)", host)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "OSS"
	}
	host := u.Hostname()

	if strings.Contains(host, ".oss") || strings.Contains(host, ".s3.") {
		parts := strings.Split(host, ".")
		if len(parts) >= 3 && (strings.Contains(parts[1], "oss") || strings.Contains(parts[1], "s3")) {
			return fmt.Sprintf("OSS(%s-%s)", parts[0], topLevelDomain(host))
		}
		return fmt.Sprintf("OSS(%s)", topLevelDomain(host))
	}
	return fmt.Sprintf("OSS(%s)", host)
}

func topLevelDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func segments(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
