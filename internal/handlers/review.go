package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/middleware"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/pkg/response"
)

type ReviewHandler struct {
	reviews *services.ReviewService
}

func NewReviewHandler(reviews *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// Submit runs one review through the enrichment pipeline
// POST /api/reviews
func (h *ReviewHandler) Submit(c *gin.Context) {
	var req services.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	result, err := h.reviews.SubmitReview(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Created(c, result)
}

// List returns the reviews of one branch. Non-admins always get their own branch.
// GET /api/reviews?branchId=
func (h *ReviewHandler) List(c *gin.Context) {
	branchID := c.Query("branchId")
	if middleware.GetRole(c) != middleware.RoleAdmin {
		branchID = middleware.GetBranchID(c)
		if branchID == "" {
			response.Forbidden(c, "no branch assigned")
			return
		}
	}

	reviews, err := h.reviews.ListReviews(c.Request.Context(), branchID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, reviews)
}

// ListBranches is admin-only.
// GET /api/branches
func (h *ReviewHandler) ListBranches(c *gin.Context) {
	branches, err := h.reviews.ListBranches(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, branches)
}

// GET /api/reviews/:id
func (h *ReviewHandler) GetByID(c *gin.Context) {
	review, err := h.reviews.GetReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !middleware.CanAccessBranch(c, review.BranchID) {
		// Same answer as a missing review so ids cannot be probed across branches.
		fail(c, services.ErrReviewNotFound)
		return
	}

	response.Success(c, review)
}

// Respond records a staff reply and the response latency
// POST /api/reviews/:id/responses
func (h *ReviewHandler) Respond(c *gin.Context) {
	var req services.RecordResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	if !h.authorize(c) {
		return
	}

	req.RespondedBy = middleware.GetUserID(c)
	resp, err := h.reviews.RecordResponse(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Created(c, resp)
}

// GET /api/reviews/:id/responses
func (h *ReviewHandler) ListResponses(c *gin.Context) {
	if !h.authorize(c) {
		return
	}

	responses, err := h.reviews.ListResponses(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, responses)
}

// authorize loads the review named by :id and checks branch access,
// writing the error response itself when access is denied.
func (h *ReviewHandler) authorize(c *gin.Context) bool {
	review, err := h.reviews.GetReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return false
	}
	if !middleware.CanAccessBranch(c, review.BranchID) {
		fail(c, services.ErrReviewNotFound)
		return false
	}
	return true
}
