package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/gin-gonic/gin"
)

type entryView struct {
	Ref          string     `json:"ref"`
	Year         string     `json:"year"`
	Category     string     `json:"category"`
	Status       string     `json:"status"`
	Withdrawn    bool       `json:"withdrawn"`
	StageName    string     `json:"stage_name,omitempty"`
	Song         string     `json:"song,omitempty"`
	VideoURL     string     `json:"video_url,omitempty"`
	Biography    string     `json:"biography,omitempty"`
	PartnerName  string     `json:"partner_name,omitempty"`
	PartnerEmail string     `json:"partner_email,omitempty"`
	Paid         paidView   `json:"paid"`
	Submitted    *time.Time `json:"date_submitted,omitempty"`
	Notified     *time.Time `json:"notified_date,omitempty"`
}

type paidView struct {
	Video      bool `json:"video"`
	Selected   bool `json:"selected"`
	Withdrawal bool `json:"withdrawal"`
}

func viewOf(e *models.Entry) entryView {
	return entryView{
		Ref:          e.EntryRef,
		Year:         e.EntryYear,
		Category:     string(e.Category),
		Status:       string(e.Status),
		Withdrawn:    e.Withdrawn,
		StageName:    e.StageName,
		Song:         e.Song,
		VideoURL:     e.VideoURL,
		Biography:    e.Biography,
		PartnerName:  e.PartnerName,
		PartnerEmail: e.PartnerEmail,
		Paid: paidView{
			Video:      e.VideoEntryPaid,
			Selected:   e.SelectedEntryPaid,
			Withdrawal: e.WithdrawalFeePaid,
		},
		Submitted: e.DateSubmitted,
		Notified:  e.NotifiedDate,
	}
}

type detailsRequest struct {
	Category     string `json:"category"`
	StageName    string `json:"stage_name"`
	Song         string `json:"song"`
	VideoURL     string `json:"video_url"`
	Biography    string `json:"biography"`
	PartnerName  string `json:"partner_name"`
	PartnerEmail string `json:"partner_email"`
}

func (r detailsRequest) details() models.EntryDetails {
	return models.EntryDetails{
		Category:     models.Category(r.Category),
		StageName:    r.StageName,
		Song:         r.Song,
		VideoURL:     r.VideoURL,
		Biography:    r.Biography,
		PartnerName:  r.PartnerName,
		PartnerEmail: r.PartnerEmail,
	}
}

// entryFor loads the entry named by the :ref parameter. Users only see
// their own entries; anything else is reported as not found.
func (s *Server) entryFor(c *gin.Context) (*models.Entry, bool) {
	e, err := s.entries.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	cl := claimsFrom(c)
	if cl.Role == roleUser && e.UserID != cl.UserID {
		s.fail(c, common.ErrorNotFound)
		return nil, false
	}
	return e, true
}

func (s *Server) handleListEntries(c *gin.Context) {
	cl := claimsFrom(c)
	if cl.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token carries no user"})
		return
	}
	list, err := s.entries.ListForUser(c.Request.Context(), cl.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]entryView, 0, len(list))
	for _, e := range list {
		out = append(out, viewOf(e))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateEntry(c *gin.Context) {
	cl := claimsFrom(c)
	if cl.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token carries no user"})
		return
	}
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := s.entries.CreateDraft(c.Request.Context(), cl.UserID, req.details())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(e))
}

func (s *Server) handleGetEntry(c *gin.Context) {
	e, ok := s.entryFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(e))
}

func (s *Server) handleUpdateEntry(c *gin.Context) {
	e, ok := s.entryFor(c)
	if !ok {
		return
	}
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.reply(c)(s.entries.UpdateDetails(c.Request.Context(), e.ID, req.details()))
}

func (s *Server) handleDeleteEntry(c *gin.Context) {
	e, ok := s.entryFor(c)
	if !ok {
		return
	}
	if err := s.entries.Delete(c.Request.Context(), e.ID, actor(claimsFrom(c))); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSubmit(c *gin.Context) {
	if e, ok := s.entryFor(c); ok {
		s.reply(c)(s.entries.Submit(c.Request.Context(), e.ID, actor(claimsFrom(c))))
	}
}

func (s *Server) handleConfirm(c *gin.Context) {
	if e, ok := s.entryFor(c); ok {
		s.reply(c)(s.entries.Confirm(c.Request.Context(), e.ID, actor(claimsFrom(c))))
	}
}

func (s *Server) handleWithdraw(c *gin.Context) {
	if e, ok := s.entryFor(c); ok {
		s.reply(c)(s.entries.Withdraw(c.Request.Context(), e.ID, actor(claimsFrom(c))))
	}
}

type decisionRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) handleDecision(c *gin.Context) {
	e, ok := s.entryFor(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.reply(c)(s.entries.Decide(c.Request.Context(), e.ID, models.Status(req.Status), actor(claimsFrom(c))))
}

func (s *Server) handleNotify(c *gin.Context) {
	if e, ok := s.entryFor(c); ok {
		s.reply(c)(s.entries.NotifyResults(c.Request.Context(), e.ID, actor(claimsFrom(c))))
	}
}

func (s *Server) handleResetNotified(c *gin.Context) {
	if e, ok := s.entryFor(c); ok {
		s.reply(c)(s.entries.ResetNotified(c.Request.Context(), e.ID, actor(claimsFrom(c))))
	}
}

func (s *Server) handlePaymentPage(c *gin.Context) {
	pt, err := models.ParsePaymentType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if claimsFrom(c).Role != rolePaymentPage {
		if _, ok := s.entryFor(c); !ok {
			return
		}
	}

	inv, err := s.ledger.PaymentPage(c.Request.Context(), c.Param("ref"), pt)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoice_id":   inv.Transaction.InvoiceID,
		"custom":       inv.Custom,
		"amount":       inv.Amount.StringFixed(2),
		"payment_type": string(pt),
		"created":      inv.Created,
	})
}

// handleInvalidateUser is called by the account system after it changes a
// user, so the next email goes to the current address.
func (s *Server) handleInvalidateUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if s.dir != nil {
		s.dir.Invalidate(id)
	}
	c.Status(http.StatusNoContent)
}

// reply writes the entry returned by a service call, or its error.
func (s *Server) reply(c *gin.Context) func(*models.Entry, error) {
	return func(e *models.Entry, err error) {
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(e))
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrDuplicateCategory),
		errors.Is(err, common.ErrAlreadyPaid),
		errors.Is(err, common.ErrEntryWithdrawn):
		return http.StatusConflict
	case errors.Is(err, common.ErrIncompleteEntry),
		errors.Is(err, common.ErrInvalidCategory):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
