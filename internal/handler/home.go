package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"flowerpod/internal/speech"
)

type HomeHandler struct {
	speaker speech.Synthesizer
}

func NewHomeHandler(speaker speech.Synthesizer) *HomeHandler {
	return &HomeHandler{speaker: speaker}
}

func (h *HomeHandler) Landing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": speech.WelcomeText})
}

// Speak reads the welcome text aloud with the posted voice (Male or Female).
func (h *HomeHandler) Speak(c *gin.Context) {
	voice := c.DefaultPostForm("voice", "Male")
	if err := h.speaker.Speak(c.Request.Context(), speech.WelcomeText, voice); err != nil {
		if errors.Is(err, speech.ErrUnknownVoice) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": speech.WelcomeText, "voice": voice})
}
