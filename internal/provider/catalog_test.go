package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genledger/internal/models"
)

func TestImageCost(t *testing.T) {
	for _, c := range []Capability{NanoBananaPro(), Seedream(), GrokImagine()} {
		p := c.Normalize(models.GenerationParams{})
		require.NoError(t, c.Validate(p))
		assert.Equal(t, int64(20), c.Cost(p), c.ID)
		assert.Equal(t, int64(25), c.Cost(c.Normalize(models.GenerationParams{Resolution: "4k"})), c.ID)
	}
}

func TestKlingCost(t *testing.T) {
	k := Kling()
	cases := []struct {
		p    models.GenerationParams
		cost int64
	}{
		{models.GenerationParams{}, 40},
		{models.GenerationParams{Duration: 10}, 80},
		{models.GenerationParams{Duration: 5, Mode: "pro"}, 70},
		{models.GenerationParams{Duration: 10, Mode: "PRO", Sound: true}, 155},
	}
	for _, tc := range cases {
		p := k.Normalize(tc.p)
		require.NoError(t, k.Validate(p))
		assert.Equal(t, tc.cost, k.Cost(p))
	}
}

func TestValidateRejects(t *testing.T) {
	k := Kling()
	assert.ErrorIs(t, k.Validate(k.Normalize(models.GenerationParams{Duration: 7})), ErrInvalidParams)
	assert.ErrorIs(t, k.Validate(k.Normalize(models.GenerationParams{Mode: "turbo"})), ErrInvalidParams)

	n := NanoBananaPro()
	assert.ErrorIs(t, n.Validate(n.Normalize(models.GenerationParams{Resolution: "8K"})), ErrInvalidParams)
	assert.ErrorIs(t, n.Validate(n.Normalize(models.GenerationParams{Duration: 5})), ErrInvalidParams)
	hot := 3.0
	assert.ErrorIs(t, n.Validate(n.Normalize(models.GenerationParams{Temperature: &hot})), ErrInvalidParams)
}

func TestBuildInput(t *testing.T) {
	n := NanoBananaPro()
	temp := 0.7
	p := n.Normalize(models.GenerationParams{Temperature: &temp})
	in := n.BuildInput("a cat", "studio light", p, []string{"https://ref/1.png"})

	assert.Equal(t, "studio light\n\na cat", in["prompt"])
	assert.Equal(t, "1:1", in["aspect_ratio"])
	assert.Equal(t, "png", in["output_format"])
	assert.Equal(t, 0.7, in["temperature"])
	assert.Equal(t, []string{"https://ref/1.png"}, in["image_input"])
	assert.Equal(t, "nano-banana-pro", n.Model(nil))

	k := Kling()
	kin := k.BuildInput("waves", "", k.Normalize(models.GenerationParams{Duration: 10}), nil)
	assert.Equal(t, "waves", kin["prompt"])
	assert.Equal(t, "10", kin["duration"])
	assert.Equal(t, "kling-2.6/text-to-video", k.Model(nil))
	assert.Equal(t, "kling-2.6/image-to-video", k.Model([]string{"https://ref"}))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	_, ok := r.Get("kling")
	assert.True(t, ok)
	_, ok = r.Get("dall-e")
	assert.False(t, ok)

	var ids []string
	for _, c := range r.List() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"grok-imagine", "kling", "nano-banana-pro", "seedream"}, ids)
}
