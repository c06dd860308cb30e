package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func TestParsePush(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    *Push
		wantErr bool
	}{
		{
			name: "generic",
			body: `{"repository": "acme/shop", "revision": "4f2a9c1"}`,
			want: &Push{Repository: "acme/shop", Revision: "4f2a9c1"},
		},
		{
			name: "generic with app and targets",
			body: `{"repository": "acme/shop", "revision": "4f2a9c1", "application": "shop", "targets": "role=web"}`,
			want: &Push{Repository: "acme/shop", Revision: "4f2a9c1", Application: "shop", Targets: "role=web"},
		},
		{
			name: "github push prefers head commit",
			body: `{"ref": "refs/heads/main", "after": "aaa111", "repository": {"full_name": "acme/shop", "name": "shop"},
				"head_commit": {"id": "bbb222", "message": "fix"}, "pusher": {"name": "dev"}}`,
			want: &Push{Repository: "acme/shop", Revision: "bbb222"},
		},
		{
			name: "github push without head commit",
			body: `{"ref": "refs/heads/main", "after": "aaa111", "repository": {"full_name": "acme/shop"}, "head_commit": null}`,
			want: &Push{Repository: "acme/shop", Revision: "aaa111"},
		},
		{
			name:    "github branch deletion",
			body:    `{"ref": "refs/heads/old", "after": "0000000000000000000000000000000000000000", "deleted": true, "repository": {"full_name": "acme/shop"}}`,
			wantErr: true,
		},
		{name: "not json", body: `repository=acme/shop`, wantErr: true},
		{name: "json array", body: `["acme/shop"]`, wantErr: true},
		{name: "missing revision", body: `{"repository": "acme/shop"}`, wantErr: true},
		{name: "missing repository", body: `{"revision": "4f2a9c1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePush([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPing(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPing("ping", []byte(`{}`)))
	assert.True(t, IsPing("", []byte(`{"zen": "Keep it logically awesome.", "hook_id": 42}`)))
	assert.False(t, IsPing("push", []byte(`{"repository": "acme/shop", "revision": "4f2a9c1"}`)))
	assert.False(t, IsPing("", []byte(`not json`)))
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"repository": "acme/shop", "revision": "4f2a9c1"}`)
	secret := "s3cret"

	require.NoError(t, VerifySignature(secret, Sign(secret, body), body))

	for name, signature := range map[string]string{
		"wrong secret":  Sign("other", body),
		"missing":       "",
		"no prefix":     "deadbeef",
		"not hex":       "sha256=zz",
		"tampered body": Sign(secret, append([]byte(nil), `{"repository": "acme/evil"}`...)),
	} {
		err := VerifySignature(secret, signature, body)
		assert.True(t, interfaces.IsKind(err, interfaces.KindAuthentication), "%s: got %v", name, err)
	}
}
