package validator

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var once sync.Once

// 资产符号：2-12位字母，大小写不敏感（后续会统一大写规整）
var assetPattern = regexp.MustCompile(`^[A-Za-z]{2,12}$`)

// LazyInitGinValidator 给gin的binding validator注册业务规则，
// 只需要在引擎创建后调用一次
func LazyInitGinValidator() {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("side", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "buy" || s == "sell"
		})
		_ = v.RegisterValidation("asset", func(fl validator.FieldLevel) bool {
			return assetPattern.MatchString(fl.Field().String())
		})
	})
}
