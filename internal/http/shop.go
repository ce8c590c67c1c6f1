package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/domain"
	"storefront/internal/repository"
	"storefront/internal/session"
)

// Auth handlers
type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary Customer login
// @Tags auth
// @Accept json
// @Produce json
// @Param input body loginReq true "Credentials"
// @Success 200 {object} domain.Customer
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	cust, err := s.auth.Login(c.Request.Context(), sessionOf(c), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// @Summary Customer logout
// @Tags auth
// @Success 204
// @Router /auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), sessionOf(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Start signup
// @Description Emails a 4-digit verification code.
// @Tags auth
// @Accept json
// @Produce json
// @Param input body auth.SignupRequest true "Signup form"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /auth/signup [post]
func (s *Server) signup(c *gin.Context) {
	var req auth.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.auth.StartSignup(c.Request.Context(), sessionOf(c), req); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "verification code sent"})
}

type verifyReq struct {
	Code string `json:"code" binding:"required"`
}

// @Summary Verify signup code
// @Tags auth
// @Accept json
// @Produce json
// @Param input body verifyReq true "Code"
// @Success 201 {object} domain.User
// @Failure 400 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Router /auth/signup/verify [post]
func (s *Server) verifySignup(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	u, err := s.auth.VerifySignup(c.Request.Context(), sessionOf(c), req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// @Summary Admin login
// @Tags auth
// @Accept json
// @Produce json
// @Param input body loginReq true "Credentials"
// @Success 200 {object} domain.AdminGrant
// @Failure 401 {object} map[string]string
// @Router /admin/auth/login [post]
func (s *Server) adminLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	g, err := s.auth.AdminLogin(c.Request.Context(), sessionOf(c), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// @Summary Admin logout
// @Tags auth
// @Success 204
// @Router /admin/auth/logout [post]
func (s *Server) adminLogout(c *gin.Context) {
	if err := s.auth.AdminLogout(c.Request.Context(), sessionOf(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Catalog handlers

// @Summary List products
// @Tags products
// @Produce json
// @Param q query string false "Name contains"
// @Param min_price query number false "Min price"
// @Param max_price query number false "Max price"
// @Success 200 {array} domain.Product
// @Router /products [get]
func (s *Server) listProducts(c *gin.Context) {
	f := productFilter(c)
	all, _ := s.catalog.Products()
	list := make([]domain.Product, 0, len(all))
	for _, p := range all {
		if f.Match(p) {
			list = append(list, p)
		}
	}
	c.JSON(http.StatusOK, list)
}

func productFilter(c *gin.Context) repository.ProductFilter {
	var f repository.ProductFilter
	if q := c.Query("q"); q != "" {
		f.NameSubstring = q
	}
	if v := c.Query("min_price"); v != "" {
		if x, err := decimal.NewFromString(v); err == nil {
			f.MinPrice = &x
		}
	}
	if v := c.Query("max_price"); v != "" {
		if x, err := decimal.NewFromString(v); err == nil {
			f.MaxPrice = &x
		}
	}
	return f
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.lookupProduct(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// lookupProduct prefers the live snapshot and falls back to the repository
// for products newer than it.
func (s *Server) lookupProduct(ctx context.Context, id int64) (domain.Product, error) {
	if p, ok := s.catalog.Get(id); ok {
		return p, nil
	}
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

// Cart handlers
type cartView struct {
	Items []domain.CartLine `json:"items"`
	Total decimal.Decimal   `json:"total"`
	Count int64             `json:"count"`
}

func newCartView(cs *cart.Store) cartView {
	return cartView{Items: cs.Lines(), Total: cs.Total(), Count: cs.Count()}
}

func (s *Server) openCart(c *gin.Context) *cart.Store {
	return cart.Open(c.Request.Context(), sessionOf(c))
}

// @Summary Get cart
// @Tags cart
// @Produce json
// @Success 200 {object} cartView
// @Failure 401 {object} map[string]string
// @Router /cart [get]
func (s *Server) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, newCartView(s.openCart(c)))
}

type addToCartReq struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

// @Summary Add product to cart
// @Tags cart
// @Accept json
// @Produce json
// @Param input body addToCartReq true "Product"
// @Success 200 {object} cartView
// @Failure 404 {object} map[string]string
// @Router /cart/items [post]
func (s *Server) addToCart(c *gin.Context) {
	var req addToCartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}
	ctx := c.Request.Context()
	p, err := s.lookupProduct(ctx, req.ProductID)
	if err != nil {
		s.fail(c, err)
		return
	}
	cs := s.openCart(c)
	if err := cs.Add(ctx, p); err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.CartOp("add")
	c.JSON(http.StatusOK, newCartView(cs))
}

// cartLineOp runs op on the line named by :id.
func (s *Server) cartLineOp(name string, op func(*cart.Store, context.Context, int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		cs := s.openCart(c)
		if err := op(cs, c.Request.Context(), id); err != nil {
			s.fail(c, err)
			return
		}
		s.metrics.CartOp(name)
		c.JSON(http.StatusOK, newCartView(cs))
	}
}

// @Summary Increment cart line
// @Tags cart
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} cartView
// @Router /cart/items/{id}/increment [post]
func (s *Server) incrementCartLine(c *gin.Context) {
	s.cartLineOp("increment", (*cart.Store).Increment)(c)
}

// @Summary Decrement cart line
// @Description A line at quantity 1 is removed.
// @Tags cart
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} cartView
// @Router /cart/items/{id}/decrement [post]
func (s *Server) decrementCartLine(c *gin.Context) {
	s.cartLineOp("decrement", (*cart.Store).Decrement)(c)
}

// @Summary Remove cart line
// @Tags cart
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} cartView
// @Router /cart/items/{id} [delete]
func (s *Server) removeCartLine(c *gin.Context) {
	s.cartLineOp("remove", (*cart.Store).Remove)(c)
}

// @Summary Clear cart
// @Tags cart
// @Produce json
// @Success 200 {object} cartView
// @Router /cart [delete]
func (s *Server) clearCart(c *gin.Context) {
	cs := s.openCart(c)
	if err := cs.Clear(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.CartOp("clear")
	c.JSON(http.StatusOK, newCartView(cs))
}

// Checkout handlers
type checkoutView struct {
	State         checkout.State       `json:"state"`
	PaymentMethod domain.PaymentMethod `json:"payment_method,omitempty"`
	Details       checkout.Details     `json:"details"`
	OrderID       int64                `json:"order_id,omitempty"`
	Cart          cartView             `json:"cart"`
}

func newCheckoutView(w *checkout.Workflow) checkoutView {
	d := w.Draft()
	return checkoutView{
		State:         d.State,
		PaymentMethod: d.Method,
		Details:       d.Details,
		OrderID:       d.OrderID,
		Cart:          newCartView(w.Cart()),
	}
}

// @Summary Checkout state
// @Tags checkout
// @Produce json
// @Success 200 {object} checkoutView
// @Router /checkout [get]
func (s *Server) getCheckout(c *gin.Context) {
	c.JSON(http.StatusOK, newCheckoutView(s.checkout.Begin(c.Request.Context(), sessionOf(c))))
}

type paymentMethodReq struct {
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

// @Summary Select payment method
// @Tags checkout
// @Accept json
// @Produce json
// @Param input body paymentMethodReq true "EVC+, SAHAL or Cash on Delivery"
// @Success 200 {object} checkoutView
// @Failure 400 {object} map[string]string
// @Router /checkout/method [put]
func (s *Server) selectPaymentMethod(c *gin.Context) {
	var req paymentMethodReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	w := s.checkout.Begin(ctx, sessionOf(c))
	if err := w.SelectPaymentMethod(ctx, req.PaymentMethod); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutView(w))
}

// @Summary Set delivery details
// @Tags checkout
// @Accept json
// @Produce json
// @Param input body checkout.Details true "Details"
// @Success 200 {object} checkoutView
// @Router /checkout/details [put]
func (s *Server) setCheckoutDetails(c *gin.Context) {
	var req checkout.Details
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	w := s.checkout.Begin(ctx, sessionOf(c))
	if err := w.SetDetails(ctx, req); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutView(w))
}

// @Summary Submit checkout
// @Description Cash on Delivery places the order; mobile money asks for a PIN.
// @Tags checkout
// @Produce json
// @Success 200 {object} checkout.Outcome
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 504 {object} map[string]string
// @Router /checkout/submit [post]
func (s *Server) submitCheckout(c *gin.Context) {
	ctx := c.Request.Context()
	out, err := s.checkout.Begin(ctx, sessionOf(c)).Submit(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type pinReq struct {
	Pin string `json:"pin"`
}

// @Summary Submit mobile money PIN
// @Tags checkout
// @Accept json
// @Produce json
// @Param input body pinReq true "PIN"
// @Success 200 {object} checkout.Outcome
// @Failure 400 {object} map[string]string
// @Router /checkout/pin [post]
func (s *Server) submitPin(c *gin.Context) {
	var req pinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	out, err := s.checkout.Begin(ctx, sessionOf(c)).SubmitPin(ctx, req.Pin)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Cancel checkout
// @Tags checkout
// @Produce json
// @Success 200 {object} checkoutView
// @Router /checkout/cancel [post]
func (s *Server) cancelCheckout(c *gin.Context) {
	ctx := c.Request.Context()
	w := s.checkout.Begin(ctx, sessionOf(c))
	if err := w.Cancel(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutView(w))
}

// @Summary Finish checkout
// @Description Forgets a completed or cancelled checkout.
// @Tags checkout
// @Success 204
// @Failure 409 {object} map[string]string
// @Router /checkout/finish [post]
func (s *Server) finishCheckout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.checkout.Begin(ctx, sessionOf(c)).Finish(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Account handlers

// @Summary Own profile
// @Tags me
// @Produce json
// @Success 200 {object} domain.User
// @Router /me/profile [get]
func (s *Server) getProfile(c *gin.Context) {
	u, err := s.auth.Profile(c.Request.Context(), gatedIdentity(c).Customer.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// @Summary Update own profile
// @Tags me
// @Accept json
// @Produce json
// @Param input body auth.ProfileUpdate true "Profile"
// @Success 200 {object} domain.User
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /me/profile [put]
func (s *Server) updateProfile(c *gin.Context) {
	var req auth.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := s.auth.UpdateProfile(c.Request.Context(), sessionOf(c), gatedIdentity(c).Customer.ID, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// @Summary Change own password
// @Tags me
// @Accept json
// @Param input body auth.PasswordChange true "Passwords"
// @Success 204
// @Failure 400 {object} map[string]string
// @Router /me/password [put]
func (s *Server) changePassword(c *gin.Context) {
	var req auth.PasswordChange
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.auth.ChangePassword(c.Request.Context(), gatedIdentity(c).Customer.ID, req); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// settingsStore picks where a blob lives: shop-wide blobs are shared and
// admin-only.
func (s *Server) settingsStore(c *gin.Context, kind session.SettingsKind) (*session.Store, error) {
	if !kind.ShopWide() {
		return sessionOf(c), nil
	}
	if err := auth.Authorize(gatedIdentity(c), auth.ActionAdminister); err != nil {
		return nil, err
	}
	return s.shop, nil
}

// @Summary Read a settings blob
// @Tags me
// @Produce json
// @Param kind path string true "notificationSettings, securitySettings, appearanceSettings, generalSettings or storeSettings"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /me/settings/{kind} [get]
func (s *Server) getSettings(c *gin.Context) {
	kind := session.SettingsKind(c.Param("kind"))
	st, err := s.settingsStore(c, kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	v, err := st.Settings(c.Request.Context(), kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Save a settings blob
// @Tags me
// @Accept json
// @Produce json
// @Param kind path string true "Settings kind"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /me/settings/{kind} [put]
func (s *Server) putSettings(c *gin.Context) {
	kind := session.SettingsKind(c.Param("kind"))
	st, err := s.settingsStore(c, kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveSettings(c, st, kind)
}

func (s *Server) saveSettings(c *gin.Context, st *session.Store, kind session.SettingsKind) {
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	v, err := st.SetSettings(c.Request.Context(), kind, raw)
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
