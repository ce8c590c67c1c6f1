package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/analytics"
	"storefront/internal/domain"
	"storefront/internal/inventory"
	"storefront/internal/service"
	"storefront/internal/session"
)

// Product handlers
type productReq struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	ImageURL    string          `json:"image_url"`
}

func (r productReq) product(id int64) domain.Product {
	return domain.Product{ID: id, Name: r.Name, Price: r.Price, Description: r.Description, ImageURL: r.ImageURL}
}

// @Summary List products (admin)
// @Tags admin
// @Produce json
// @Param q query string false "Name contains"
// @Param min_price query number false "Min price"
// @Param max_price query number false "Max price"
// @Success 200 {array} domain.Product
// @Router /admin/products [get]
func (s *Server) adminListProducts(c *gin.Context) {
	list, err := s.products.List(c.Request.Context(), productFilter(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Create product
// @Tags admin
// @Accept json
// @Produce json
// @Param input body productReq true "Product"
// @Success 201 {object} domain.Product
// @Failure 400 {object} map[string]string
// @Router /admin/products [post]
func (s *Server) createProduct(c *gin.Context) {
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.products.Create(c.Request.Context(), req.product(0))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Get product by id (admin)
// @Tags admin
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 404 {object} map[string]string
// @Router /admin/products/{id} [get]
func (s *Server) adminGetProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.products.GetByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Update product
// @Description An empty image_url keeps the current image.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param input body productReq true "Update"
// @Success 200 {object} domain.Product
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /admin/products/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.products.Update(c.Request.Context(), req.product(id))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Delete product
// @Tags admin
// @Param id path int true "Product ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /admin/products/{id} [delete]
func (s *Server) deleteProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.products.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Upload product image
// @Tags admin
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Image"
// @Success 201 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /admin/products/images [post]
func (s *Server) uploadProductImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()
	url, err := s.products.UploadImage(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// Order handlers

// @Summary List orders
// @Tags admin
// @Produce json
// @Param status query string false "Completed, Pending, Cancelled or All"
// @Param q query string false "Search customer, email, status or product"
// @Success 200 {array} domain.Order
// @Router /admin/orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.List(c.Request.Context(), service.OrderFilter{Status: c.Query("status"), Search: c.Query("q")})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags admin
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 404 {object} map[string]string
// @Router /admin/orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	o, err := s.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type orderStatusReq struct {
	Status domain.OrderStatus `json:"status"`
}

// @Summary Change order status
// @Description Cancelling returns tracked stock. A cancelled order is final.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body orderStatusReq true "Status"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/orders/{id}/status [put]
func (s *Server) updateOrderStatus(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req orderStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := s.orders.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// User handlers

// @Summary List users
// @Tags admin
// @Produce json
// @Success 200 {array} domain.User
// @Router /admin/users [get]
func (s *Server) listUsers(c *gin.Context) {
	list, err := s.users.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Create user
// @Tags admin
// @Accept json
// @Produce json
// @Param input body service.UserInput true "User"
// @Success 201 {object} domain.User
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/users [post]
func (s *Server) createUser(c *gin.Context) {
	var req service.UserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := s.users.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// @Summary Get user by id
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} domain.User
// @Failure 404 {object} map[string]string
// @Router /admin/users/{id} [get]
func (s *Server) getUser(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	u, err := s.users.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// @Summary Update user
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param input body service.UserInput true "User"
// @Success 200 {object} domain.User
// @Router /admin/users/{id} [put]
func (s *Server) updateUser(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req service.UserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := s.users.Update(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// @Summary Delete user
// @Tags admin
// @Param id path int true "User ID"
// @Success 204
// @Router /admin/users/{id} [delete]
func (s *Server) deleteUser(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.users.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Toggle user ban
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} domain.User
// @Router /admin/users/{id}/ban [post]
func (s *Server) toggleBan(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	u, err := s.users.ToggleBan(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Inventory handlers
type inventoryView struct {
	Summary  inventory.Summary   `json:"summary"`
	Entries  []domain.StockEntry `json:"entries"`
	LowStock []domain.StockEntry `json:"lowStock"`
}

// @Summary Inventory overview
// @Tags admin
// @Produce json
// @Param q query string false "Product name contains"
// @Success 200 {object} inventoryView
// @Router /admin/inventory [get]
func (s *Server) getInventory(c *gin.Context) {
	snap, err := s.inventory.Load(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryView(snap, c.Query("q")))
}

func newInventoryView(snap *inventory.Snapshot, term string) inventoryView {
	view := inventoryView{
		Summary:  snap.Summary(),
		Entries:  snap.Search(term),
		LowStock: []domain.StockEntry{},
	}
	for e := range snap.LowStock() {
		view.LowStock = append(view.LowStock, e)
	}
	return view
}

// @Summary Low stock entries
// @Tags admin
// @Produce json
// @Success 200 {array} domain.StockEntry
// @Router /admin/inventory/low [get]
func (s *Server) lowStock(c *gin.Context) {
	snap, err := s.inventory.Load(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryView(snap, "").LowStock)
}

type stockEntryReq struct {
	ProductID    int64 `json:"product_id"`
	Quantity     int64 `json:"quantity"`
	RestockLevel int64 `json:"restock_level"`
}

// @Summary Track stock for a product
// @Tags admin
// @Accept json
// @Produce json
// @Param input body stockEntryReq true "Entry"
// @Success 201 {object} domain.StockEntry
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/inventory [post]
func (s *Server) addStockEntry(c *gin.Context) {
	var req stockEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	e, err := s.inventory.AddEntry(c.Request.Context(), req.ProductID, req.Quantity, req.RestockLevel)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

type adjustReq struct {
	Delta int64 `json:"delta"`
}

// @Summary Adjust stock quantity
// @Description Adds delta to the quantity, clamping at zero.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "Stock entry ID"
// @Param input body adjustReq true "Delta"
// @Success 200 {object} inventoryView
// @Failure 404 {object} map[string]string
// @Router /admin/inventory/{id}/adjust [post]
func (s *Server) adjustStock(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req adjustReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	snap, err := s.inventory.Adjust(c.Request.Context(), id, req.Delta)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryView(snap, ""))
}

// Analytics handlers

// @Summary Sales report
// @Tags admin
// @Produce json
// @Param granularity query string false "daily, weekly or monthly (default)"
// @Success 200 {object} analytics.Report
// @Router /admin/analytics [get]
func (s *Server) analyticsReport(c *gin.Context) {
	r, err := s.analytics.Report(c.Request.Context(), analytics.ParseGranularity(c.Query("granularity")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Settings handlers

// @Summary Store settings
// @Tags admin
// @Produce json
// @Success 200 {object} domain.StoreSettings
// @Router /admin/settings/store [get]
func (s *Server) getStoreSettings(c *gin.Context) {
	v, err := s.shop.Settings(c.Request.Context(), session.StoreSettings)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Save store settings
// @Tags admin
// @Accept json
// @Produce json
// @Param input body domain.StoreSettings true "Settings"
// @Success 200 {object} domain.StoreSettings
// @Router /admin/settings/store [put]
func (s *Server) putStoreSettings(c *gin.Context) {
	s.saveSettings(c, s.shop, session.StoreSettings)
}
