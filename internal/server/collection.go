package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// rejection is a hook failure that maps to a client error.
type rejection struct {
	status int
	code   string
}

func (r rejection) Error() string {
	return r.code
}

type collectionHooks[T any] struct {
	setID        func(item *T, id int64)
	validate     func(item T) error
	beforeCreate func(tx *gorm.DB, item *T) error
	beforeUpdate func(tx *gorm.DB, item *T) error
	beforeDelete func(tx *gorm.DB, id int64) error
}

// collection serves list/get/create/update/delete for one gorm model.
type collection[T any] struct {
	db     *gorm.DB
	name   string
	hooks  collectionHooks[T]
	logger *zap.Logger
}

func newCollection[T any](db *gorm.DB, name string, logger *zap.Logger, hooks collectionHooks[T]) *collection[T] {
	return &collection[T]{
		db:     db,
		name:   name,
		hooks:  hooks,
		logger: logger.With(zap.String("collection", name)),
	}
}

func (h *collection[T]) register(group *gin.RouterGroup) {
	group.GET("", h.handleList)
	group.POST("", h.handleCreate)
	group.GET("/:id", h.handleGet)
	group.PUT("/:id", h.handleUpdate)
	group.DELETE("/:id", h.handleDelete)
}

func (h *collection[T]) handleList(c *gin.Context) {
	items := make([]T, 0)
	if err := h.db.WithContext(c.Request.Context()).Order("id").Find(&items).Error; err != nil {
		h.logger.Error("failed to list items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *collection[T]) handleGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var item T
	err := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load item", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// handleCreate ignores any id in the payload; the database assigns it.
func (h *collection[T]) handleCreate(c *gin.Context) {
	item, ok := h.bind(c)
	if !ok {
		return
	}
	h.hooks.setID(&item, 0)

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if h.hooks.beforeCreate != nil {
			if err := h.hooks.beforeCreate(tx, &item); err != nil {
				return err
			}
		}
		return tx.Create(&item).Error
	})
	if h.respondHookError(c, "create", err) {
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *collection[T]) handleUpdate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	item, ok := h.bind(c)
	if !ok {
		return
	}
	h.hooks.setID(&item, id)

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(new(T)).Where("id = ?", id).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			return gorm.ErrRecordNotFound
		}
		if h.hooks.beforeUpdate != nil {
			if err := h.hooks.beforeUpdate(tx, &item); err != nil {
				return err
			}
		}
		return tx.Model(new(T)).Where("id = ?", id).Select("*").Updates(&item).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if h.respondHookError(c, "update", err) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *collection[T]) handleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if h.hooks.beforeDelete != nil {
			if err := h.hooks.beforeDelete(tx, id); err != nil {
				return err
			}
		}
		result := tx.Where("id = ?", id).Delete(new(T))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if h.respondHookError(c, "delete", err) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *collection[T]) bind(c *gin.Context) (T, bool) {
	var item T
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return item, false
	}
	if h.hooks.validate != nil {
		if err := h.hooks.validate(item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + h.name, "detail": err.Error()})
			return item, false
		}
	}
	return item, true
}

// respondHookError writes the error response and reports whether one was written.
func (h *collection[T]) respondHookError(c *gin.Context, operation string, err error) bool {
	if err == nil {
		return false
	}
	var rejected rejection
	if errors.As(err, &rejected) {
		c.JSON(rejected.status, gin.H{"error": rejected.code})
		return true
	}
	h.logger.Error("failed to "+operation+" item", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed"})
	return true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}
