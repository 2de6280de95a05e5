package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/dmitrijs2005/entryledger/internal/server/services"
	"github.com/gin-gonic/gin"
)

// handleNotification takes a gateway notification the verifier has already
// validated, forwarded as the original form fields. Business failures are
// acknowledged with 200 so the gateway stops redelivering; infrastructure
// failures return 500 and are retried.
func (s *Server) handleNotification(c *gin.Context) {
	ctx := c.Request.Context()

	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed form"})
		return
	}
	n := notificationFromForm(c)
	if n.TxnID == "" || n.PaymentStatus == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "txn_id and payment_status are required"})
		return
	}

	res, err := s.webhook.Process(ctx, n)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": res.Outcome})
	case common.IsRecoverable(err):
		c.JSON(http.StatusOK, gin.H{"status": services.OutcomeRejected, "error": err.Error()})
	default:
		s.logger.Error(ctx, "notification processing failed", "txn_id", n.TxnID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": services.OutcomeFailed})
	}
}

func notificationFromForm(c *gin.Context) models.Notification {
	raw := make(map[string]string, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}

	business := raw["business"]
	if business == "" {
		business = raw["receiver_email"]
	}
	return models.Notification{
		Custom:        raw["custom"],
		Invoice:       raw["invoice"],
		PaymentStatus: raw["payment_status"],
		TxnID:         raw["txn_id"],
		Business:      business,
		MCGross:       raw["mc_gross"],
		Raw:           raw,
	}
}
