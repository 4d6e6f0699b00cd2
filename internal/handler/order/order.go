package order

import (
	"tradeflow/internal/model"
	"tradeflow/internal/service"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service *service.OrderService
}

func NewHandler(service *service.OrderService) *Handler {
	return &Handler{service: service}
}

// 下单请求。金额走字符串，十进制精度不过float
type placeOrderReq struct {
	UserID int64  `json:"user_id" binding:"required"`
	Side   string `json:"side" binding:"required,side"`
	Asset  string `json:"asset" binding:"required,asset"`
	Qty    string `json:"qty" binding:"required"`
}

type placeLimitOrderReq struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Side       string `json:"side" binding:"required,side"`
	Asset      string `json:"asset" binding:"required,asset"`
	Qty        string `json:"qty" binding:"required"`
	LimitPrice string `json:"limit_price" binding:"required"`
}

type depositReq struct {
	UserID int64  `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// OrderPlaceMarket 市价下单，资金预检通过即入队，执行是异步的
func (h *Handler) OrderPlaceMarket() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req placeOrderReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, err.Error()), nil)
			return
		}
		qty, err := decimal.NewFromString(req.Qty)
		if err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, "qty格式错误"), nil)
			return
		}

		order, err := h.service.PlaceMarketOrder(ctx, req.UserID, model.OrderSide(req.Side), req.Asset, qty)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, order)
	}
}

// OrderPlaceLimit 限价下单，open落库并登记追踪
func (h *Handler) OrderPlaceLimit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req placeLimitOrderReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, err.Error()), nil)
			return
		}
		qty, err := decimal.NewFromString(req.Qty)
		if err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, "qty格式错误"), nil)
			return
		}
		limitPrice, err := decimal.NewFromString(req.LimitPrice)
		if err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, "limit_price格式错误"), nil)
			return
		}

		order, err := h.service.PlaceLimitOrder(ctx, req.UserID, model.OrderSide(req.Side), req.Asset, qty, limitPrice)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, order)
	}
}

// BalanceDeposit 美元入金
func (h *Handler) BalanceDeposit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req depositReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, err.Error()), nil)
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, "amount格式错误"), nil)
			return
		}

		if err := h.service.Deposit(ctx, req.UserID, amount); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"user_id": req.UserID, "amount": amount})
	}
}

// BalancesGet 用户全部余额
func (h *Handler) BalancesGet() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req struct {
			UserID int64 `form:"user_id" binding:"required"`
		}
		if err := ctx.ShouldBindQuery(&req); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.InvalidParams, err.Error()), nil)
			return
		}

		balances, err := h.service.Balances(ctx, req.UserID)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "查询余额失败"), nil)
			return
		}
		response.JSON(ctx, nil, balances)
	}
}

// PricesGet 最新价快照
func (h *Handler) PricesGet() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		prices, err := h.service.LatestPrices(ctx)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "查询最新价失败"), nil)
			return
		}
		response.JSON(ctx, nil, prices)
	}
}
