package parser

// FieldType tags how the storage index declares a field.
// TAG fields are exact-match categorical, NUMERIC fields are range-queryable,
// TEXT fields are full-text searchable.
type FieldType string

const (
	Numeric FieldType = "NUMERIC"
	Tag     FieldType = "TAG"
	Text    FieldType = "TEXT"
)

// Token maps one Squid logformat directive to an output field.
type Token struct {
	Token     string
	Field     string
	Type      FieldType
	Transform TransformFunc
}

// tokenTable is the static registry of supported Squid logformat directives.
// Lookup is exact-string match on the normalized token (encoding prefixes and
// width modifiers already stripped by the compiler).
var tokenTable = []Token{
	// Time
	{Token: "%ts.%tu", Field: "timestamp", Type: Numeric, Transform: TimestampToMs},
	{Token: "%ts", Field: "timestamp", Type: Numeric, Transform: TimestampToMs},
	{Token: "%tu", Field: "milliseconds", Type: Numeric},
	{Token: "%tl", Field: "localTime", Type: Text},
	{Token: "%tg", Field: "gmtTime", Type: Text},
	{Token: "%tr", Field: "duration", Type: Numeric},
	{Token: "%dt", Field: "dnsTime", Type: Numeric},
	{Token: "%tS", Field: "transactionStartTime", Type: Numeric, Transform: TimestampToMs},
	{Token: "%busy_time", Field: "busyTimeNs", Type: Numeric},

	// Connection (client side)
	{Token: "%>a", Field: "clientIP", Type: Tag},
	{Token: "%>A", Field: "clientFQDN", Type: Text},
	{Token: "%>p", Field: "clientPort", Type: Numeric},
	{Token: "%>eui", Field: "clientEUI", Type: Text},
	{Token: "%>la", Field: "localIP", Type: Tag},
	{Token: "%>lp", Field: "localPort", Type: Numeric},
	{Token: "%>qos", Field: "clientQOS", Type: Text},
	{Token: "%>nfmark", Field: "clientNFMark", Type: Text},
	{Token: "%transport::>connection_id", Field: "connectionId", Type: Numeric},
	{Token: "%la", Field: "listeningIP", Type: Tag},
	{Token: "%lp", Field: "listeningPort", Type: Numeric},
	{Token: "%>handshake", Field: "clientHandshake", Type: Text, Transform: Base64Decode},

	// Connection (server/peer side)
	{Token: "%<a", Field: "hierarchyHost", Type: Tag},
	{Token: "%<A", Field: "serverFQDN", Type: Text},
	{Token: "%<p", Field: "serverPort", Type: Numeric},
	{Token: "%<la", Field: "serverLocalIP", Type: Tag},
	{Token: "%<lp", Field: "serverLocalPort", Type: Numeric},
	{Token: "%<qos", Field: "serverQOS", Type: Text},
	{Token: "%<nfmark", Field: "serverNFMark", Type: Text},

	// Access control / user
	{Token: "%et", Field: "externalAclTag", Type: Text},
	{Token: "%ea", Field: "externalAclLog", Type: Text},
	{Token: "%un", Field: "user", Type: Text},
	{Token: "%ul", Field: "authUser", Type: Text},
	{Token: "%ue", Field: "externalAclUser", Type: Text},
	{Token: "%credentials", Field: "credentials", Type: Text},

	// HTTP request
	{Token: "%http::rm", Field: "method", Type: Tag},
	{Token: "%rm", Field: "method", Type: Tag},
	{Token: "%http::>rm", Field: "clientMethod", Type: Tag},
	{Token: "%http::<rm", Field: "serverMethod", Type: Tag},
	{Token: "%http::ru", Field: "url", Type: Text, Transform: NormalizeURL},
	{Token: "%ru", Field: "url", Type: Text, Transform: NormalizeURL},
	{Token: "%http::>ru", Field: "clientURL", Type: Text, Transform: NormalizeURL},
	{Token: "%http::<ru", Field: "serverURL", Type: Text, Transform: NormalizeURL},
	{Token: "%http::>rs", Field: "clientScheme", Type: Tag},
	{Token: "%http::<rs", Field: "serverScheme", Type: Tag},
	{Token: "%http::>rd", Field: "clientDomain", Type: Text},
	{Token: "%http::<rd", Field: "serverDomain", Type: Text},
	{Token: "%http::>rP", Field: "clientURLPort", Type: Numeric},
	{Token: "%http::<rP", Field: "serverURLPort", Type: Numeric},
	{Token: "%http::rp", Field: "urlPath", Type: Text},
	{Token: "%rp", Field: "urlPath", Type: Text},
	{Token: "%http::>rp", Field: "clientURLPath", Type: Text},
	{Token: "%http::<rp", Field: "serverURLPath", Type: Text},
	{Token: "%http::rv", Field: "httpVersion", Type: Tag},
	{Token: "%rv", Field: "httpVersion", Type: Tag},
	{Token: "%http::>rv", Field: "clientHTTPVersion", Type: Tag},
	{Token: "%http::<rv", Field: "serverHTTPVersion", Type: Tag},

	// HTTP response
	{Token: "%http::<Hs", Field: "serverStatus", Type: Numeric, Transform: NormalizeStatus},
	{Token: "%http::>Hs", Field: "clientStatus", Type: Numeric, Transform: NormalizeStatus},
	{Token: "%>Hs", Field: "resultStatus", Type: Numeric, Transform: NormalizeStatus},
	{Token: "%<Hs", Field: "resultStatus", Type: Numeric, Transform: NormalizeStatus},
	{Token: "%http::mt", Field: "contentType", Type: Text},
	{Token: "%mt", Field: "contentType", Type: Text},

	// Squid result / hierarchy
	{Token: "%Ss", Field: "resultType", Type: Tag},
	{Token: "%Sh", Field: "hierarchyType", Type: Tag},

	// Sizes
	{Token: "%<st", Field: "bytes", Type: Numeric},
	{Token: "%>st", Field: "requestSize", Type: Numeric},
	{Token: "%<bs", Field: "bodyBytesReceived", Type: Numeric},
	{Token: "%>bs", Field: "bodyBytesSent", Type: Numeric},

	// Headers
	{Token: "%{User-Agent}>h", Field: "userAgent", Type: Text, Transform: NormalizeUserAgent},
	{Token: "%{Referer}>h", Field: "referer", Type: Text},
	{Token: "%{Host}>h", Field: "host", Type: Text},
	{Token: "%{Content-Type}<h", Field: "responseContentType", Type: Text},

	// SSL/TLS
	{Token: "%ssl::>sni", Field: "sslSNI", Type: Text},
	{Token: "%ssl::>cert_subject", Field: "sslCertSubject", Type: Text},
	{Token: "%ssl::>cert_issuer", Field: "sslCertIssuer", Type: Text},
	{Token: "%ssl::>cert_errors", Field: "sslCertErrors", Type: Text},
	{Token: "%ssl::<cert_subject", Field: "sslServerCertSubject", Type: Text},
	{Token: "%ssl::<cert_issuer", Field: "sslServerCertIssuer", Type: Text},
	{Token: "%ssl::bump_mode", Field: "sslBumpMode", Type: Tag},
	{Token: "%us", Field: "sslClientName", Type: Text},

	// Error / meta
	{Token: "%sn", Field: "sequenceNumber", Type: Numeric},
	{Token: "%err_code", Field: "errorCode", Type: Text},
	{Token: "%err_detail", Field: "errorDetail", Type: Text},
	{Token: "%master_xaction", Field: "masterTransaction", Type: Numeric},
}

var tokenIndex = func() map[string]*Token {
	m := make(map[string]*Token, len(tokenTable))
	for i := range tokenTable {
		m[tokenTable[i].Token] = &tokenTable[i]
	}
	return m
}()

// lookupToken resolves a normalized directive to its table entry.
func lookupToken(token string) (*Token, bool) {
	t, ok := tokenIndex[token]
	return t, ok
}

// FieldDecl declares one field of the storage index schema.
type FieldDecl struct {
	Name     string
	Type     FieldType
	Sortable bool
}

// Fields that are stored but never sorted on.
var notSortable = map[string]bool{
	"user":        true,
	"contentType": true,
}

// IndexSchema returns the ordered index declarations for every field a given
// format produces, plus the derived domain field. Declarations are static,
// driven by the token table; storage types are never inferred from data.
func IndexSchema(format string) ([]FieldDecl, error) {
	if format == "" {
		format = DefaultFormat
	}
	cf, err := Compile(format)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cf.Fields)+1)
	decls := make([]FieldDecl, 0, len(cf.Fields)+1)
	for _, f := range cf.Fields {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		decls = append(decls, FieldDecl{Name: f.Name, Type: f.Type, Sortable: !notSortable[f.Name]})
	}
	if !seen["domain"] {
		decls = append(decls, FieldDecl{Name: "domain", Type: Text, Sortable: true})
	}
	return decls, nil
}
