package controllers

import (
	"errors"
	"net/http"
	"time"

	"reviewpilot-backend/config"
	"reviewpilot-backend/models"
	"reviewpilot-backend/services"
	"reviewpilot-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AutomationController exposes the engine's ops surface: status, start/stop,
// manual trigger, the pending queue and manual replies.
type AutomationController struct {
	Engine *services.AutomationEngine
	Queue  *services.ManualQueueStore
}

func (ac *AutomationController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ac.Engine.Status())
}

func (ac *AutomationController) Start(c *gin.Context) {
	ac.Engine.Start()
	c.JSON(http.StatusOK, gin.H{"running": ac.Engine.Running()})
}

func (ac *AutomationController) Stop(c *gin.Context) {
	ac.Engine.Stop()
	c.JSON(http.StatusOK, gin.H{"running": ac.Engine.Running()})
}

func (ac *AutomationController) Trigger(c *gin.Context) {
	if !ac.Engine.TriggerCycle() {
		utils.RespondWithError(c, http.StatusConflict, "A cycle is already in progress")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}

type QueueEntryView struct {
	ID             uuid.UUID  `json:"id"`
	ReviewID       uuid.UUID  `json:"reviewId"`
	OutletID       uuid.UUID  `json:"outletId"`
	OutletName     string     `json:"outletName"`
	CustomerName   string     `json:"customerName"`
	Rating         int        `json:"rating"`
	ReviewText     string     `json:"reviewText"`
	ReminderCount  int        `json:"reminderCount"`
	NextReminderAt *time.Time `json:"nextReminderAt"`
	WaitingSince   time.Time  `json:"waitingSince"`
}

// GetPendingQueue lists open manual-queue entries with their review context,
// oldest first.
func (ac *AutomationController) GetPendingQueue(c *gin.Context) {
	entries, err := ac.Queue.ListPending(200)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to load queue")
		return
	}

	reviewIDs := make([]uuid.UUID, 0, len(entries))
	outletIDs := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		reviewIDs = append(reviewIDs, e.ReviewID)
		outletIDs = append(outletIDs, e.OutletID)
	}

	reviewByID := make(map[uuid.UUID]models.Review, len(reviewIDs))
	if len(reviewIDs) > 0 {
		var reviews []models.Review
		if err := config.DB.Where("id IN ?", reviewIDs).Find(&reviews).Error; err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to load reviews")
			return
		}
		for _, r := range reviews {
			reviewByID[r.ID] = r
		}
	}

	outletNameByID := make(map[uuid.UUID]string, len(outletIDs))
	if len(outletIDs) > 0 {
		var outlets []models.Outlet
		if err := config.DB.Where("id IN ?", outletIDs).Find(&outlets).Error; err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to load outlets")
			return
		}
		for _, o := range outlets {
			outletNameByID[o.ID] = o.Name
		}
	}

	views := make([]QueueEntryView, 0, len(entries))
	for _, e := range entries {
		view := QueueEntryView{
			ID:             e.ID,
			ReviewID:       e.ReviewID,
			OutletID:       e.OutletID,
			OutletName:     outletNameByID[e.OutletID],
			ReminderCount:  e.ReminderCount,
			NextReminderAt: e.NextReminderAt,
			WaitingSince:   e.CreatedAt,
		}
		if r, ok := reviewByID[e.ReviewID]; ok {
			view.CustomerName = r.CustomerName
			view.Rating = r.Rating
			view.ReviewText = r.ReviewText
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"entries": views, "count": len(views)})
}

type ManualReplyRequest struct {
	ReplyText string     `json:"replyText" binding:"required"`
	AdminID   *uuid.UUID `json:"adminId"`
}

// PostManualReply records a human reply for a queued or escalated review.
func (ac *AutomationController) PostManualReply(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid review ID")
		return
	}

	var req ManualReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "replyText is required")
		return
	}

	err = ac.Engine.RespondManually(c.Request.Context(), reviewID, req.ReplyText, req.AdminID)
	switch {
	case errors.Is(err, services.ErrReviewNotFound):
		utils.RespondWithError(c, http.StatusNotFound, "Review not found")
		return
	case errors.Is(err, services.ErrNotAwaitingReply):
		utils.RespondWithError(c, http.StatusConflict, "Review is not awaiting a manual reply")
		return
	case err != nil:
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to record reply")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewId": reviewID, "status": models.ReviewStatusCompleted})
}
