package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/qasim313/Unbrandit/internal/client"
	"github.com/qasim313/Unbrandit/internal/model"
)

const (
	// FilesRoute is where signed references are served.
	FilesRoute = "/api/files/"

	maxWalkDepth   = 32
	maxUnwrapDepth = 3
	macSize        = 16
)

var errTooDeep = errors.New("payload nesting too deep")

// BlobResolver hides raw storage locations behind signed proxy references
// of the form <base>/api/files/<b64(key)>.<b64(mac)>. It is the only
// component holding the storage client.
type BlobResolver struct {
	storage client.StorageClient
	secret  []byte
	base    string
}

func NewBlobResolver(storage client.StorageClient, secret, publicBaseURL string) *BlobResolver {
	return &BlobResolver{
		storage: storage,
		secret:  []byte(secret),
		base:    strings.TrimRight(publicBaseURL, "/"),
	}
}

func (r *BlobResolver) sign(key string) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(key))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:macSize])
}

func (r *BlobResolver) referenceForKey(key string) string {
	token := base64.RawURLEncoding.EncodeToString([]byte(key)) + "." + r.sign(key)
	return r.base + FilesRoute + token
}

// ToPublicReference converts a raw storage location into a proxy reference.
// Locations outside the configured bucket are rejected.
func (r *BlobResolver) ToPublicReference(raw string) (string, error) {
	key, err := r.resolveKey(raw, 0)
	if err != nil {
		return "", err
	}
	return r.referenceForKey(key), nil
}

// ToRawLocation accepts a proxy reference or one of our own raw locations
// and returns the raw location handed to the toolchain.
func (r *BlobResolver) ToRawLocation(ref string) (string, error) {
	key, err := r.resolveKey(ref, 0)
	if err != nil {
		return "", err
	}
	return r.storage.URLForKey(key), nil
}

// IsRawLocation reports whether s points into the bucket directly.
func (r *BlobResolver) IsRawLocation(s string) bool {
	_, ok := r.storage.KeyFromURL(s)
	return ok
}

// resolveKey unwraps chained references (a proxy whose url parameter holds
// another reference) up to maxUnwrapDepth levels.
func (r *BlobResolver) resolveKey(s string, depth int) (string, error) {
	if depth > maxUnwrapDepth {
		return "", fmt.Errorf("%w: reference chain too long", ErrInvalidReference)
	}
	if inner, ok := r.chainedInner(s); ok {
		return r.resolveKey(inner, depth+1)
	}
	if token, ok := r.tokenOf(s); ok {
		return r.verifyToken(token)
	}
	if key, ok := r.storage.KeyFromURL(s); ok {
		return key, nil
	}
	return "", ErrInvalidReference
}

// tokenOf extracts the token part of a reference, absolute or relative.
func (r *BlobResolver) tokenOf(s string) (string, bool) {
	rest := s
	switch {
	case r.base != "" && strings.HasPrefix(s, r.base+FilesRoute):
		rest = s[len(r.base+FilesRoute):]
	case strings.HasPrefix(s, FilesRoute):
		rest = s[len(FilesRoute):]
	default:
		return "", false
	}
	if rest == "" || strings.ContainsAny(rest, "/?#") {
		return "", false
	}
	return rest, true
}

func (r *BlobResolver) chainedInner(s string) (string, bool) {
	prefix := FilesRoute + "proxy?"
	idx := strings.Index(s, prefix)
	if idx < 0 || (idx > 0 && s[:idx] != r.base) {
		return "", false
	}
	q, err := url.ParseQuery(s[idx+len(prefix):])
	if err != nil {
		return "", false
	}
	inner := q.Get("url")
	return inner, inner != ""
}

func (r *BlobResolver) verifyToken(token string) (string, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 {
		return "", ErrInvalidReference
	}
	keyBytes, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil || len(keyBytes) == 0 {
		return "", ErrInvalidReference
	}
	key := string(keyBytes)
	if !hmac.Equal([]byte(token[dot+1:]), []byte(r.sign(key))) {
		return "", ErrInvalidReference
	}
	return key, nil
}

// Blob is an opened object ready to be streamed. The caller closes Body.
type Blob struct {
	*client.Object
	FileName string
}

// Stream opens the object behind a signed token. Only signed tokens are
// accepted here, never raw locations.
func (r *BlobResolver) Stream(ctx context.Context, token string) (*Blob, error) {
	key, err := r.verifyToken(token)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, key)
}

// StreamLocation opens a stored raw location, for callers that already
// passed an ownership check.
func (r *BlobResolver) StreamLocation(ctx context.Context, raw string) (*Blob, error) {
	key, err := r.resolveKey(raw, 0)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, key)
}

func (r *BlobResolver) open(ctx context.Context, key string) (*Blob, error) {
	obj, err := r.storage.Open(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &Blob{Object: obj, FileName: path.Base(key)}, nil
}

// Publicize returns a JSON-shaped copy of v in which every raw storage
// location and every chained reference is replaced by a canonical proxy
// reference. Strings outside the bucket are left untouched.
func (r *BlobResolver) Publicize(v any) (any, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	return r.walk(tree, 0, func(s string) (string, error) {
		return r.publicString(s), nil
	})
}

// PublicizeString rewrites a single value with the same rules as Publicize.
func (r *BlobResolver) PublicizeString(s string) string {
	return r.publicString(s)
}

func (r *BlobResolver) publicString(s string) string {
	if _, ok := r.tokenOf(s); ok {
		return s
	}
	_, chained := r.chainedInner(s)
	if !chained && !r.IsRawLocation(s) {
		return s
	}
	ref, err := r.ToPublicReference(s)
	if err != nil {
		// An unresolvable chain may still carry a raw location in its query.
		return ""
	}
	return ref
}

// Internalize converts proxy references inside a flavor configuration back
// into raw locations so the frozen snapshot is usable by the toolchain. A
// reference that does not resolve fails with ErrInvalidReference.
func (r *BlobResolver) Internalize(cfg model.FlavorConfig) (model.FlavorConfig, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return model.FlavorConfig{}, err
	}
	out, err := r.walk(tree, 0, func(s string) (string, error) {
		if _, ok := r.tokenOf(s); !ok {
			if _, ok := r.chainedInner(s); !ok {
				return s, nil
			}
		}
		return r.ToRawLocation(s)
	})
	if err != nil {
		return model.FlavorConfig{}, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return model.FlavorConfig{}, err
	}
	var result model.FlavorConfig
	if err := json.Unmarshal(data, &result); err != nil {
		return model.FlavorConfig{}, err
	}
	return result, nil
}

func toTree(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (r *BlobResolver) walk(v any, depth int, rewrite func(string) (string, error)) (any, error) {
	if depth > maxWalkDepth {
		return nil, errTooDeep
	}
	switch t := v.(type) {
	case string:
		ns, err := rewrite(t)
		if err != nil {
			return nil, err
		}
		return ns, nil
	case map[string]any:
		for k, child := range t {
			nv, err := r.walk(child, depth+1, rewrite)
			if err != nil {
				return nil, err
			}
			t[k] = nv
		}
		return t, nil
	case []any:
		for i, child := range t {
			nv, err := r.walk(child, depth+1, rewrite)
			if err != nil {
				return nil, err
			}
			t[i] = nv
		}
		return t, nil
	default:
		return v, nil
	}
}

// Put stores a blob and returns its proxy reference.
func (r *BlobResolver) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if _, err := r.storage.Upload(ctx, key, body, contentType); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return r.referenceForKey(key), nil
}
