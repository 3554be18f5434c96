package provider

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/digkill/genledger/internal/models"
)

const (
	imageUnitCost   = 20
	imageUnitCost4K = 25

	videoStdPer5s  = 40
	videoProPer5s  = 70
	videoSoundCost = 15
)

var (
	imageAspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}
	imageResolutions  = []string{"1K", "2K", "4K"}
	videoAspectRatios = []string{"16:9", "9:16", "1:1"}
	outputFormats     = []string{"png", "jpg", "jpeg", "webp"}
)

// DefaultRegistry returns the catalog served by the KIE market API.
func DefaultRegistry() *Registry {
	return NewRegistry(NanoBananaPro(), Seedream(), GrokImagine(), Kling())
}

func NanoBananaPro() Capability {
	return Capability{
		ID:        "nano-banana-pro",
		Name:      "Nano Banana Pro",
		Kind:      KindImage,
		Extractor: Chain(KIE, Generic),
		normalize: normalizeImage,
		validate:  validateImage,
		cost:      imageCost,
		model:     func([]string) string { return "nano-banana-pro" },
		input: func(prompt string, p models.GenerationParams, refs []string) map[string]any {
			in := imageInput(prompt, p)
			in["output_format"] = p.OutputFormat
			if len(refs) > 0 {
				in["image_input"] = refs
			}
			return in
		},
	}
}

func Seedream() Capability {
	return Capability{
		ID:        "seedream",
		Name:      "Seedream",
		Kind:      KindImage,
		Extractor: Chain(KIE, Generic),
		normalize: normalizeImage,
		validate:  validateImage,
		cost:      imageCost,
		model: func(refs []string) string {
			if len(refs) > 0 {
				return "bytedance/seedream-v4-edit"
			}
			return "bytedance/seedream-v4-text-to-image"
		},
		input: func(prompt string, p models.GenerationParams, refs []string) map[string]any {
			in := map[string]any{
				"prompt":           prompt,
				"image_size":       p.AspectRatio,
				"image_resolution": p.Resolution,
			}
			addSampling(in, p)
			if len(refs) > 0 {
				in["image_urls"] = refs
			}
			return in
		},
	}
}

func GrokImagine() Capability {
	return Capability{
		ID:        "grok-imagine",
		Name:      "Grok Imagine",
		Kind:      KindImage,
		Extractor: Chain(KIE, Generic),
		normalize: normalizeImage,
		validate:  validateImage,
		cost:      imageCost,
		model: func(refs []string) string {
			if len(refs) > 0 {
				return "grok-imagine/image-to-image"
			}
			return "grok-imagine/text-to-image"
		},
		input: func(prompt string, p models.GenerationParams, refs []string) map[string]any {
			in := imageInput(prompt, p)
			if len(refs) > 0 {
				in["image_urls"] = refs
			}
			return in
		},
	}
}

func Kling() Capability {
	return Capability{
		ID:        "kling",
		Name:      "Kling",
		Kind:      KindVideo,
		Extractor: Chain(KIE, Generic),
		normalize: func(p models.GenerationParams) models.GenerationParams {
			if p.Duration == 0 {
				p.Duration = 5
			}
			if p.Mode == "" {
				p.Mode = "std"
			}
			if p.AspectRatio == "" {
				p.AspectRatio = "16:9"
			}
			p.Mode = strings.ToLower(p.Mode)
			return p
		},
		validate: func(p models.GenerationParams) error {
			if p.Duration != 5 && p.Duration != 10 {
				return fmt.Errorf("duration must be 5 or 10 seconds, got %d", p.Duration)
			}
			if p.Mode != "std" && p.Mode != "pro" {
				return fmt.Errorf("mode must be std or pro, got %q", p.Mode)
			}
			if !slices.Contains(videoAspectRatios, p.AspectRatio) {
				return fmt.Errorf("unsupported aspect ratio %q", p.AspectRatio)
			}
			return nil
		},
		cost: func(p models.GenerationParams) int64 {
			per5 := int64(videoStdPer5s)
			if p.Mode == "pro" {
				per5 = videoProPer5s
			}
			total := per5 * int64(p.Duration/5)
			if p.Sound {
				total += videoSoundCost
			}
			return total
		},
		model: func(refs []string) string {
			if len(refs) > 0 {
				return "kling-2.6/image-to-video"
			}
			return "kling-2.6/text-to-video"
		},
		input: func(prompt string, p models.GenerationParams, refs []string) map[string]any {
			in := map[string]any{
				"prompt":       prompt,
				"duration":     strconv.Itoa(p.Duration),
				"aspect_ratio": p.AspectRatio,
				"mode":         p.Mode,
				"sound":        p.Sound,
			}
			if len(refs) > 0 {
				in["image_urls"] = refs
			}
			return in
		},
	}
}

func normalizeImage(p models.GenerationParams) models.GenerationParams {
	if p.AspectRatio == "" {
		p.AspectRatio = "1:1"
	}
	if p.Resolution == "" {
		p.Resolution = "1K"
	}
	p.Resolution = strings.ToUpper(p.Resolution)
	if p.OutputFormat == "" {
		p.OutputFormat = "png"
	}
	p.OutputFormat = strings.ToLower(p.OutputFormat)
	return p
}

func validateImage(p models.GenerationParams) error {
	if !slices.Contains(imageAspectRatios, p.AspectRatio) {
		return fmt.Errorf("unsupported aspect ratio %q", p.AspectRatio)
	}
	if !slices.Contains(imageResolutions, p.Resolution) {
		return fmt.Errorf("unsupported resolution %q", p.Resolution)
	}
	if !slices.Contains(outputFormats, p.OutputFormat) {
		return fmt.Errorf("unsupported output format %q", p.OutputFormat)
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("temperature must be within 0..2")
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return fmt.Errorf("topP must be within 0..1")
	}
	if p.TopK != nil && *p.TopK < 1 {
		return fmt.Errorf("topK must be positive")
	}
	if p.Duration != 0 || p.Sound {
		return fmt.Errorf("duration and sound apply to video models only")
	}
	return nil
}

func imageCost(p models.GenerationParams) int64 {
	if p.Resolution == "4K" {
		return imageUnitCost4K
	}
	return imageUnitCost
}

func imageInput(prompt string, p models.GenerationParams) map[string]any {
	in := map[string]any{
		"prompt":       prompt,
		"aspect_ratio": p.AspectRatio,
		"resolution":   p.Resolution,
	}
	addSampling(in, p)
	return in
}

func addSampling(in map[string]any, p models.GenerationParams) {
	if p.Temperature != nil {
		in["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		in["top_p"] = *p.TopP
	}
	if p.TopK != nil {
		in["top_k"] = *p.TopK
	}
}
