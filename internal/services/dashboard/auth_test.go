package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsMatch(t *testing.T) {
	tests := []struct {
		name               string
		wantUser, wantPass string
		user, pass         string
		ok                 bool
	}{
		{"any user when none configured", "", "pw", "whoever", "pw", true},
		{"empty user when none configured", "", "pw", "", "pw", true},
		{"wrong password", "", "pw", "whoever", "nope", false},
		{"configured user matches", "grower", "pw", "grower", "pw", true},
		{"configured user differs", "grower", "pw", "other", "pw", false},
		{"prefix is not a match", "", "pw", "", "pw2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, credentialsMatch(tt.wantUser, tt.wantPass, tt.user, tt.pass))
		})
	}
}
