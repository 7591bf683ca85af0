package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"reviewqueue/internal/cache"
	"reviewqueue/internal/featureflags"
	"reviewqueue/internal/guardian"
	"reviewqueue/internal/middleware"
	"reviewqueue/internal/models"
	"reviewqueue/internal/notifications"
	"reviewqueue/internal/reviewable"
	"reviewqueue/internal/service"

	"github.com/gofiber/fiber/v2"
)

const defaultReviewablePageSize = 50

// reviewableResponse is a reviewable plus what the caller may do to it.
type reviewableResponse struct {
	models.Reviewable
	Actions        []reviewable.Action        `json:"actions"`
	EditableFields []reviewable.EditableField `json:"editable_fields"`
	Target         any                        `json:"target,omitempty"`
}

func (s *Server) serializeReviewable(c *fiber.Ctx, r *models.Reviewable, g *guardian.Guardian) reviewableResponse {
	ctx := c.UserContext()
	args := queryArgs(c)
	return reviewableResponse{
		Reviewable:     *r,
		Actions:        s.reviewables.ActionsFor(ctx, r, g, args).Items(),
		EditableFields: s.reviewables.EditableFor(ctx, r, g, args).Items(),
	}
}

// queryArgs exposes query parameters to catalog builders and handlers.
func queryArgs(c *fiber.Ctx) reviewable.Args {
	args := reviewable.Args{}
	for k, v := range c.Queries() {
		args[k] = v
	}
	return args
}

// loadVisible resolves :id to a reviewable the caller may see, writing the
// error response when it cannot.
func (s *Server) loadVisible(c *fiber.Ctx) (*models.Reviewable, *guardian.Guardian, error) {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil, nil, err
	}
	c.SetUserContext(middleware.WithReviewableID(c.UserContext(), id))
	user := currentUser(c)
	r, err := s.reviewables.FindViewable(c.UserContext(), user, id)
	if err != nil {
		_ = s.respondError(c, err)
		return nil, nil, errResponseWritten
	}
	g, err := s.reviewables.GuardianFor(c.UserContext(), user)
	if err != nil {
		_ = s.respondError(c, err)
		return nil, nil, errResponseWritten
	}
	return r, g, nil
}

// ListReviewables lists the reviewables visible to the caller. status is a
// status name or "all"; it defaults to pending.
func (s *Server) ListReviewables(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user := currentUser(c)
	page := parsePagination(c, defaultReviewablePageSize)
	opts := service.ListOptions{Limit: page.Limit, Offset: page.Offset}

	var (
		rows []models.Reviewable
		err  error
	)
	switch raw := strings.TrimSpace(c.Query("status")); raw {
	case "all":
		rows, err = s.reviewables.ViewableBy(ctx, user, opts)
	case "":
		rows, err = s.reviewables.ListFor(ctx, user, nil, opts)
	default:
		status, parseErr := models.ParseReviewableStatus(raw)
		if parseErr != nil {
			return badRequest(c, "Invalid status")
		}
		rows, err = s.reviewables.ListFor(ctx, user, &status, opts)
	}
	if err != nil {
		return s.respondError(c, err)
	}

	g, err := s.reviewables.GuardianFor(ctx, user)
	if err != nil {
		return s.respondError(c, err)
	}
	items := make([]reviewableResponse, 0, len(rows))
	for i := range rows {
		items = append(items, s.serializeReviewable(c, &rows[i], g))
	}

	return c.JSON(fiber.Map{
		"reviewables": items,
		"meta": fiber.Map{
			"limit":  page.Limit,
			"offset": page.Offset,
		},
	})
}

// GetReviewable returns one visible reviewable with its resolved target.
func (s *Server) GetReviewable(c *fiber.Ctx) error {
	r, g, err := s.loadVisible(c)
	if err != nil {
		return nil
	}

	resp := s.serializeReviewable(c, r, g)
	target, err := s.reviewables.Registry().ResolveTarget(c.UserContext(), s.db, r.Target())
	switch {
	case err == nil:
		resp.Target = target
	case isNotFound(err):
		// The target may have been removed after the reviewable was raised.
	default:
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"reviewable": resp})
}

// GetReviewableHistory returns the audit trail of a visible reviewable.
func (s *Server) GetReviewableHistory(c *fiber.Ctx) error {
	r, _, err := s.loadVisible(c)
	if err != nil {
		return nil
	}
	history, err := s.reviewables.History(c.UserContext(), r)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"reviewable_histories": history})
}

// UpdateReviewable applies reviewer edits. Every submitted field must be in
// the caller's editable catalog; payload keys are checked as payload.<key>.
func (s *Server) UpdateReviewable(c *fiber.Ctx) error {
	var req struct {
		Reviewable map[string]any `json:"reviewable"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Reviewable == nil {
		return badRequest(c, "reviewable is required")
	}

	r, g, err := s.loadVisible(c)
	if err != nil {
		return nil
	}

	editable := s.reviewables.EditableFor(c.UserContext(), r, g, queryArgs(c))
	if editable.IsEmpty() {
		return s.respondError(c, service.ErrInvalidAccess)
	}

	in, fieldErrs, allowed := buildUpdateInput(req.Reviewable, editable)
	if !allowed {
		return s.respondError(c, service.ErrInvalidAccess)
	}
	if fieldErrs != nil {
		return s.respondError(c, models.NewFieldValidationError(fieldErrs))
	}

	if _, err := s.reviewables.UpdateFields(c.UserContext(), r, in, currentUser(c)); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"reviewable": req.Reviewable})
}

// buildUpdateInput checks params against editable. allowed is false when a
// field is outside the catalog.
func buildUpdateInput(params map[string]any, editable *reviewable.EditableFields) (service.UpdateFieldsInput, map[string][]string, bool) {
	var in service.UpdateFieldsInput
	fieldErrs := map[string][]string{}

	for key, value := range params {
		if key == "payload" {
			payload, ok := value.(map[string]any)
			if !ok {
				fieldErrs["payload"] = append(fieldErrs["payload"], "must be an object")
				continue
			}
			for pk := range payload {
				if !editable.Has(reviewable.PayloadFieldID(pk)) {
					return in, nil, false
				}
			}
			in.Payload = payload
			continue
		}

		if !editable.Has(key) {
			return in, nil, false
		}
		switch key {
		case "category_id":
			id, err := optionalID(value)
			if err != nil {
				fieldErrs[key] = append(fieldErrs[key], err.Error())
				continue
			}
			in.CategoryID = id
			in.HasCategoryID = true
		default:
			fieldErrs[key] = append(fieldErrs[key], "is not supported")
		}
	}

	if len(fieldErrs) > 0 {
		return in, fieldErrs, true
	}
	return in, nil, true
}

// optionalID reads a JSON number or null as an id.
func optionalID(value any) (*uint, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		if v <= 0 || v != math.Trunc(v) || v > math.MaxUint32 {
			return nil, fmt.Errorf("must be a positive integer")
		}
		id := uint(v)
		return &id, nil
	default:
		return nil, fmt.Errorf("must be a positive integer")
	}
}

type performResponse struct {
	Result     *reviewable.PerformResult `json:"reviewable_perform_result"`
	Reviewable *reviewableResponse       `json:"reviewable,omitempty"`
}

// PerformReviewable runs an action on a visible reviewable. A failed result
// is returned with 422.
func (s *Server) PerformReviewable(c *fiber.Ctx) error {
	r, _, err := s.loadVisible(c)
	if err != nil {
		return nil
	}
	actionID := strings.TrimSpace(c.Params("actionId"))
	if actionID == "" {
		return badRequest(c, "Invalid action ID")
	}

	ctx := c.UserContext()
	user := currentUser(c)
	result, err := s.reviewables.Perform(ctx, user, r, actionID, queryArgs(c))
	if err != nil {
		return s.respondError(c, err)
	}
	if !result.IsSuccess() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(performResponse{Result: result})
	}

	// Catalogs are recomputed against the new status.
	g, err := s.reviewables.GuardianFor(ctx, user)
	if err != nil {
		return s.respondError(c, err)
	}
	resp := s.serializeReviewable(c, r, g)
	return c.JSON(performResponse{Result: result, Reviewable: &resp})
}

// BulkPerformReviewables performs an action on every visible reviewable of a
// kind whose target is listed.
func (s *Server) BulkPerformReviewables(c *fiber.Ctx) error {
	user := currentUser(c)
	if !s.featureFlags.Enabled(featureflags.BulkPerform, user.ID) {
		return s.respondError(c, service.ErrFeatureDisabled)
	}

	var req struct {
		Kind      string `json:"kind"`
		TargetIDs []uint `json:"target_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Kind) == "" || len(req.TargetIDs) == 0 {
		return badRequest(c, "kind and target_ids are required")
	}
	actionID := strings.TrimSpace(c.Params("actionId"))
	if actionID == "" {
		return badRequest(c, "Invalid action ID")
	}

	outcomes, err := s.reviewables.BulkPerformTargets(c.UserContext(), user, actionID, req.Kind, req.TargetIDs, queryArgs(c))
	if err != nil {
		return s.respondError(c, err)
	}
	slog.InfoContext(c.UserContext(), "bulk perform finished",
		slog.String("kind", req.Kind),
		slog.String("action", actionID),
		slog.Int("rows", len(outcomes)),
	)
	return c.JSON(fiber.Map{"results": outcomes})
}

// ClaimReviewable marks a visible reviewable as being handled by the caller.
func (s *Server) ClaimReviewable(c *fiber.Ctx) error {
	r, _, err := s.loadVisible(c)
	if err != nil {
		return nil
	}
	if err := s.reviewables.Claim(c.UserContext(), currentUser(c), r); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"claimed_by_id": r.ClaimedByID})
}

// UnclaimReviewable clears the claim on a visible reviewable.
func (s *Server) UnclaimReviewable(c *fiber.Ctx) error {
	r, _, err := s.loadVisible(c)
	if err != nil {
		return nil
	}
	if err := s.reviewables.Unclaim(c.UserContext(), currentUser(c), r); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"claimed_by_id": nil})
}

// GetReviewableCount returns the caller's pending count, cached per user
// until the next lifecycle event.
func (s *Server) GetReviewableCount(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user := currentUser(c)

	var payload notifications.CountPayload
	err := cache.Aside(ctx, cache.ReviewableCountKey(ctx, user.ID), &payload, s.config.ReviewableCountTTL(), func() error {
		g, err := s.reviewables.GuardianFor(ctx, user)
		if err != nil {
			return err
		}
		n, err := s.reviewables.PendingCount(ctx, g)
		if err != nil {
			return err
		}
		payload.ReviewableCount = n
		return nil
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(payload)
}
