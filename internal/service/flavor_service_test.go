package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestRollback_CreatesNewestCopy(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.seedProject(t, owner)
	f := e.seedFlavor(t, owner, p.ID, "Blue")
	v1 := f.CurrentVersion

	_, err := e.flavors.SaveConfig(ctx, owner, f.ID, model.FlavorConfig{App: model.AppConfig{Name: "Green"}})
	require.NoError(t, err)
	_, err = e.flavors.SaveConfig(ctx, owner, f.ID, model.FlavorConfig{App: model.AppConfig{Name: "Red"}})
	require.NoError(t, err)

	v4, err := e.flavors.Rollback(ctx, owner, f.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, v4.Version)
	assert.NotEqual(t, v1.ID, v4.ID)
	want, err := json.Marshal(v1.Config)
	require.NoError(t, err)
	got, err := json.Marshal(v4.Config)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	original, err := e.store.GetFlavorVersion(ctx, f.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, original.Version)
	assert.Equal(t, "Blue", original.Config.App.Name)

	detail, err := e.flavors.Get(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.Equal(t, v4.ID, detail.CurrentVersion.ID)

	history, err := e.flavors.Versions(ctx, owner, f.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, 4, history[0].Version)
}

func TestRollback_UnknownVersion(t *testing.T) {
	e := newTestEnv(t)
	p := e.seedProject(t, owner)
	f := e.seedFlavor(t, owner, p.ID, "Blue")

	_, err := e.flavors.Rollback(context.Background(), owner, f.ID, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlavor_OwnershipAndInternalize(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.seedProject(t, owner)

	_, err := e.flavors.Create(ctx, "intruder", p.ID, &model.CreateFlavorRequest{Name: "X"})
	assert.ErrorIs(t, err, ErrNotFound)

	logoRef, err := e.resolver.ToPublicReference(blobBase + "/uploads/logo.png")
	require.NoError(t, err)
	f, err := e.flavors.Create(ctx, owner, p.ID, &model.CreateFlavorRequest{
		Name:   "Blue",
		Config: model.FlavorConfig{Branding: model.BrandingConfig{LogoURL: logoRef}},
	})
	require.NoError(t, err)
	assert.Equal(t, blobBase+"/uploads/logo.png", f.CurrentVersion.Config.Branding.LogoURL)

	chained := blobBase + "/uploads/logo.png"
	for i := 0; i <= maxUnwrapDepth; i++ {
		chained = FilesRoute + "proxy?url=" + url.QueryEscape(chained)
	}
	_, err = e.flavors.SaveConfig(ctx, owner, f.ID, model.FlavorConfig{Branding: model.BrandingConfig{LogoURL: chained}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.flavors.Get(ctx, "intruder", f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := e.flavors.PatchConfig(ctx, f.ID, model.FlavorConfig{Signing: &model.SigningConfig{KeyAlias: "release"}})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)

	require.NoError(t, e.flavors.Delete(ctx, owner, f.ID))
	_, err = e.flavors.Get(ctx, owner, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
