package handler

import (
	"errors"
	"reflect"
	"strconv"

	"github.com/stustapay/stustapay-sub000/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// respond wraps v in the {"data": ...} success envelope.
func respond(c *gin.Context, status int, v any) {
	c.JSON(status, gin.H{"data": v})
}

// fail writes the error envelope for err.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := apierror.Envelope(err)
	c.AbortWithStatusJSON(status, body)
}

func validationFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fail(c, apierror.InvalidArgument("%s", err.Error()))
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	fail(c, apierror.ValidationError(fields))
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, apierror.InvalidArgument("invalid JSON: %s", err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		validationFailed(c, err)
		return false
	}
	return true
}

// bindQuery is bindAndValidate for query strings.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		fail(c, apierror.InvalidArgument("invalid query: %s", err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		validationFailed(c, err)
		return false
	}
	return true
}

// idParam parses a positive integer path parameter.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, apierror.InvalidArgument("invalid %s", name))
		return 0, false
	}
	return id, true
}

// nodeParam is idParam for the :node_id scope every admin route carries.
func nodeParam(c *gin.Context) (int64, bool) {
	return idParam(c, "node_id")
}
