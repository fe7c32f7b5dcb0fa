package api

import (
	"net/http"
	"strings"
	"time"

	"sentra/backend/internal/models"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CharacterHandler creates and reads roleplay characters
type CharacterHandler struct {
	characters repository.CharacterRepository
}

func NewCharacterHandler(characters repository.CharacterRepository) *CharacterHandler {
	return &CharacterHandler{characters: characters}
}

// createCharacterRequest carries every character attribute; only name is required
type createCharacterRequest struct {
	Name           string   `json:"name" binding:"required"`
	Species        string   `json:"species"`
	Age            string   `json:"age"`
	Description    string   `json:"description"`
	Background     string   `json:"background"`
	Temperament    string   `json:"temperament"`
	TalkingStyle   string   `json:"talkingStyle"`
	Scenario       string   `json:"scenario"`
	Outfit         string   `json:"outfit"`
	SpecialAbility string   `json:"specialAbility"`
	Family         string   `json:"family"`
	Job            string   `json:"job"`
	Residence      string   `json:"residence"`
	Relationship   string   `json:"relationship"`
	Tags           []string `json:"tags"`
	Avatar         string   `json:"avatar"`
}

func (h *CharacterHandler) CreateCharacter(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("name is required").WithCause(err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		fail(c, errors.InvalidArgument("name is required"))
		return
	}

	now := time.Now().UTC()
	character := &models.Character{
		ID:             uuid.NewString(),
		AuthorID:       userID,
		Name:           strings.TrimSpace(req.Name),
		Species:        req.Species,
		Age:            req.Age,
		Description:    req.Description,
		Background:     req.Background,
		Temperament:    req.Temperament,
		TalkingStyle:   req.TalkingStyle,
		Scenario:       req.Scenario,
		Outfit:         req.Outfit,
		SpecialAbility: req.SpecialAbility,
		Family:         req.Family,
		Job:            req.Job,
		Residence:      req.Residence,
		Relationship:   req.Relationship,
		Tags:           req.Tags,
		Avatar:         req.Avatar,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.characters.Create(requestContext(c, userID), character); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, character)
}

func (h *CharacterHandler) GetCharacter(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	character, err := h.characters.GetByID(requestContext(c, userID), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, character)
}
