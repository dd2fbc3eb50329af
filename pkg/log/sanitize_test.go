package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeField(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"api key", "api_key", "abcd1234efgh5678", "abcd********5678"},
		{"authorization header", "Authorization", "Bearer abcdefghijkl", "Bear***********ijkl"},
		{"short secret", "client_secret", "abc", "a*c"},
		{"tiny token", "token", "ab", "**"},
		{"proxy url", "proxy_url", "socks5://user:pw@proxy:1080", "sock*******************1080"},
		{"mysql dsn", "dsn", "root:pw@tcp(db:3306)/w", "root**************6)/w"},
		{"passenger name", "passenger", "Grace Brewster Hopper", "G*** B*** H***"},
		{"traveller full name", "full_name", "Ada", "A***"},
		{"email", "contact_email", "traveller@example.com", "tra***@example.com"},
		{"short email", "email", "ab@example.com", "a*@example.com"},
		{"bad email", "email", "not-an-email", "************"},
		{"empty", "password", "", ""},
		{"plain", "origin", "JFK", "JFK"},
		{"record locator", "record_locator", "ABC123", "ABC123"},
		{"case insensitive", "API_KEY", "abcd1234efgh5678", "abcd********5678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeField(tt.key, tt.value))
		})
	}
}
