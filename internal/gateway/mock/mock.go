package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/gateway"
)

const (
	// InvalidPrefix marks credentials the mock rejects.
	InvalidPrefix = "invalid"
	// FailMarker in a topic or prompt makes the call fail transiently.
	FailMarker = "[fail]"

	imageWidth  = 640
	imageHeight = 400
)

var catalogue = []string{
	"Fix a leaky faucet",
	"Patch a small hole in drywall",
	"Unclog a bathroom sink",
	"Replace a light switch",
	"Fix a running toilet",
	"Re-caulk a bathtub",
	"Tighten a loose cabinet handle",
	"Replace a door hinge",
	"Fix a squeaky door",
	"Reset a tripped breaker",
	"Replace a shower head",
	"Seal a drafty window",
	"Hang a heavy picture frame",
	"Repair a wobbly chair leg",
}

var actions = []string{
	"Gather the tools and turn off power or water if needed",
	"Inspect the area and remove any loose material",
	"Loosen and remove the damaged part",
	"Clean the surface so the new part sits flush",
	"Fit the replacement part in place",
	"Tighten everything and test the repair",
}

// Gateway is a deterministic offline backend for development and tests.
type Gateway struct {
	Prompts gateway.Prompts
	// Delay simulates upstream latency; the call returns early when ctx ends.
	Delay time.Duration
}

var _ gateway.Gateway = (*Gateway)(nil)

func New(prompts gateway.Prompts) *Gateway {
	return &Gateway{Prompts: prompts}
}

func (g *Gateway) ListTopics(ctx context.Context, cred domain.Credential) (domain.TopicList, error) {
	if err := g.precheck(ctx, gateway.OpListTopics, cred, ""); err != nil {
		return nil, err
	}
	n := g.Prompts.TopicCount
	if n <= 0 || n > len(catalogue) {
		n = min(gateway.DefaultTopicCount, len(catalogue))
	}
	return domain.TopicList(catalogue[:n]).Clone(), nil
}

// GenerateSteps returns 3 to 6 steps in a topic-dependent, intentionally unsorted order.
func (g *Gateway) GenerateSteps(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error) {
	op := gateway.OpGenerateSteps
	if strings.TrimSpace(topic) == "" {
		return nil, gateway.Classify(op, fmt.Errorf("%w: topic", gateway.ErrEmptyInput))
	}
	if err := g.precheck(ctx, op, cred, topic); err != nil {
		return nil, err
	}
	seed := hash(topic)
	count := 3 + int(seed%4)
	steps := make(domain.TutorialContent, 0, count)
	for i := count; i >= 1; i-- {
		action := actions[(int(seed)+i)%len(actions)]
		steps = append(steps, domain.TutorialStep{
			StepNumber:  i,
			Instruction: fmt.Sprintf("%s (%s).", action, topic),
			ImagePrompt: fmt.Sprintf("hands performing step %d of %s", i, strings.ToLower(topic)),
		})
	}
	return steps, nil
}

func (g *Gateway) GenerateImage(ctx context.Context, cred domain.Credential, prompt string) (domain.GeneratedImage, error) {
	op := gateway.OpGenerateImage
	if strings.TrimSpace(prompt) == "" {
		return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: image prompt", gateway.ErrEmptyInput))
	}
	if err := g.precheck(ctx, op, cred, prompt); err != nil {
		return domain.GeneratedImage{}, err
	}
	png, err := Render(prompt)
	if err != nil {
		return domain.GeneratedImage{}, gateway.Classify(op, err)
	}
	return domain.NewGeneratedImage("image/png", png), nil
}

func (g *Gateway) precheck(ctx context.Context, op gateway.Op, cred domain.Credential, input string) error {
	if g.Delay > 0 {
		t := time.NewTimer(g.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return gateway.Classify(op, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return gateway.Classify(op, err)
	}
	if cred.Empty() || strings.HasPrefix(strings.ToLower(cred.Reveal()), InvalidPrefix) {
		return &gateway.Error{Op: op, Reason: gateway.AuthDenied, Err: errors.New("API key not valid. Please pass a valid API key.")}
	}
	if strings.Contains(input, FailMarker) {
		return &gateway.Error{Op: op, Reason: gateway.Transient, Err: errors.New("simulated upstream failure")}
	}
	return nil
}

var loadFace = sync.OnceValues(func() (font.Face, error) {
	parsed, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return truetype.NewFace(parsed, &truetype.Options{Size: 22, Hinting: font.HintingNone}), nil
})

// Render draws a diagram-style placeholder PNG captioned with prompt.
func Render(prompt string) ([]byte, error) {
	face, err := loadFace()
	if err != nil {
		return nil, err
	}
	seed := hash(prompt)
	accent := color.RGBA{R: uint8(64 + seed%128), G: uint8(96 + (seed>>8)%96), B: uint8(128 + (seed>>16)%128), A: 255}

	dc := gg.NewContext(imageWidth, imageHeight)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(accent)
	dc.SetLineWidth(6)
	dc.DrawRoundedRectangle(12, 12, imageWidth-24, imageHeight-24, 18)
	dc.Stroke()
	dc.DrawCircle(imageWidth/2, 120, 56)
	dc.Fill()

	dc.SetFontFace(face)
	dc.SetColor(color.RGBA{R: 40, G: 40, B: 40, A: 255})
	dc.DrawStringWrapped(prompt, imageWidth/2, 200, 0.5, 0, imageWidth-80, 1.4, gg.AlignCenter)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
