// Package policy evaluates an optional Rego policy that can keep expired
// images from being reaped.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/amikeeper/internal/telemetry"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

// Query is the rule a protection policy must define.
const Query = "data.amikeeper.protect"

// Guard decides whether an expired image is protected from deletion.
type Guard struct {
	name   string
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
	tracer trace.Tracer
}

// Input is the document the policy sees as `input`.
type Input struct {
	Image ImageInput `json:"image"`
	NowMS int64      `json:"now_ms"`
}

// ImageInput describes the image under evaluation.
type ImageInput struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Tags     map[string]string `json:"tags"`
	ExpiryMS int64             `json:"expiry_ms"`
}

// New compiles module under name.
func New(ctx context.Context, name, module string) (*Guard, error) {
	g := &Guard{
		name:   name,
		logger: telemetry.NewLogger("policy"),
		tracer: otel.Tracer("amikeeper.policy"),
	}

	prepared, err := rego.New(
		rego.Query(Query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}
	g.query = prepared

	g.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")

	return g, nil
}

// LoadFile compiles the policy stored at path.
func LoadFile(ctx context.Context, path string) (*Guard, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	return New(ctx, name, string(content))
}

// Protect reports whether the policy keeps img. An undefined rule means
// the image is not protected. Evaluation errors are returned with
// protected set to true.
func (g *Guard) Protect(ctx context.Context, img backup.Image, expiry, now time.Time) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "policy.protect",
		trace.WithAttributes(attribute.String("image.id", img.ID)))
	defer span.End()

	input := Input{
		Image: ImageInput{
			ID:       img.ID,
			Name:     img.Name,
			Tags:     img.Tags,
			ExpiryMS: expiry.UnixMilli(),
		},
		NowMS: now.UnixMilli(),
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return true, fmt.Errorf("evaluate policy %s: %w", g.name, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case bool:
		return v, nil
	default:
		return true, fmt.Errorf("evaluate policy %s: protect is %T, want bool", g.name, v)
	}
}
