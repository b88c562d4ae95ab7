package outbox

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/vetsync/pkg/db/models"
	dbtypes "github.com/angelmondragon/vetsync/pkg/db/types"
	"github.com/angelmondragon/vetsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

// EnqueueInput describes one local mutation intent.
type EnqueueInput struct {
	EntityType    string              `json:"entity_type" validate:"required"`
	EntityID      string              `json:"entity_id" validate:"required"`
	OperationType enums.OperationType `json:"operation_type" validate:"required,oneof=create update delete"`
	Payload       dbtypes.JSONPayload `json:"payload"`
	BaseVersion   int64               `json:"base_version"`
}

// EnqueueHook runs after a record has been committed to the outbox.
type EnqueueHook func(ctx context.Context, record models.OutboxRecord)

type Service struct {
	repo     *Repository
	logg     *logger.Logger
	validate *validator.Validate
	now      func() time.Time

	mu    sync.RWMutex
	hooks []EnqueueHook
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		repo:     repo,
		logg:     logg,
		validate: newValidator(),
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// OnEnqueued registers a hook fired after every successful Enqueue.
func (s *Service) OnEnqueued(hook EnqueueHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Enqueue validates input and records it as a pending outbox record, returning its op_id.
// It never performs network I/O.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (string, error) {
	in.EntityType = strings.TrimSpace(in.EntityType)
	in.EntityID = strings.TrimSpace(in.EntityID)
	if err := s.validate.Struct(in); err != nil {
		return "", validationError(err)
	}
	if !in.Payload.IsNull() && !json.Valid(in.Payload) {
		return "", pkgerrors.New(pkgerrors.CodeInvalidArgument, "validation failed").
			WithDetails(map[string]string{"payload": "must be valid json"})
	}

	record := models.OutboxRecord{
		OpID:            uuid.NewString(),
		EntityType:      in.EntityType,
		EntityID:        in.EntityID,
		OperationType:   in.OperationType,
		Payload:         in.Payload,
		BaseVersion:     in.BaseVersion,
		ClientTimestamp: s.now().UTC(),
		Status:          enums.OutboxStatusPending,
	}
	if err := s.repo.Insert(ctx, &record); err != nil {
		return "", err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"op_id":          record.OpID,
		"entity_type":    record.EntityType,
		"entity_id":      record.EntityID,
		"operation_type": record.OperationType,
	})
	s.logg.Info(logCtx, "outbox operation enqueued")

	s.mu.RLock()
	hooks := append([]EnqueueHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, record)
	}
	return record.OpID, nil
}

func validationError(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			switch fieldErr.Tag() {
			case "required":
				details[fieldErr.Field()] = "is required"
			case "oneof":
				details[fieldErr.Field()] = "must be one of: " + fieldErr.Param()
			default:
				details[fieldErr.Field()] = "is invalid"
			}
		}
		return pkgerrors.New(pkgerrors.CodeInvalidArgument, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInvalidArgument, err, "validation failed")
}

// NormalizeBaseVersion converts a loosely typed version into an integer, mapping
// anything that is not a finite number to 0.
func NormalizeBaseVersion(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case float32:
		return finiteToInt(float64(n))
	case float64:
		return finiteToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return finiteToInt(f)
		}
	}
	return 0
}

func finiteToInt(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}
