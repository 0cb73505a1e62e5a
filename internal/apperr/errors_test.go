package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestStoreClassification(t *testing.T) {
	notFound := Store(gorm.ErrRecordNotFound, "load anime %d", 7)
	assert.ErrorIs(t, notFound, ErrEntryNotFound)
	assert.Equal(t, CodeEntryNotFound, Code(notFound))
	assert.Contains(t, notFound.Error(), "load anime 7")

	broken := Store(errors.New("database is locked"), "update sources")
	assert.ErrorIs(t, broken, ErrStoreUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(broken))
	assert.Contains(t, broken.Error(), "database is locked")

	// 已分类的错误不会被重新归为 StoreUnavailable
	invalid := Store(Invalid("empty source list"), "merge")
	assert.ErrorIs(t, invalid, ErrInvalidOperation)
	assert.NotErrorIs(t, invalid, ErrStoreUnavailable)

	assert.NoError(t, Store(nil, "noop"))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NotFound("anime 3"):                 http.StatusNotFound,
		ErrTaskNotFound:                     http.StatusNotFound,
		Invalid("target in source set"):     http.StatusBadRequest,
		ErrNotPausable:                      http.StatusConflict,
		ErrInvalidState:                     http.StatusConflict,
		ErrDuplicateTask:                    http.StatusConflict,
		errors.New("boom"):                  http.StatusInternalServerError,
		&Detail{Code: CodeEntryNotFound}:    http.StatusNotFound,
		&Detail{Code: CodeStoreUnavailable}: http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestNewDetail(t *testing.T) {
	assert.Nil(t, NewDetail(nil))

	d := NewDetail(Invalid("overlapping operations"))
	assert.Equal(t, CodeInvalidOperation, d.Code)
	assert.Contains(t, d.Message, "overlapping operations")
}
