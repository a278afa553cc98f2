package routes

import (
	"net/http"
	"time"

	"restaurant-review-app/handlers"
	"restaurant-review-app/middleware"
	"restaurant-review-app/sessions"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps carries everything the route table needs wired in.
type Deps struct {
	Sessions  sessions.Store
	Codec     sessions.Codec
	JWTSecret []byte
	TTLSecs   int
}

// Setup registers all routes and middleware groups.
func Setup(r *gin.Engine, deps Deps) {
	r.Use(middleware.Authenticate(deps.Sessions, deps.Codec, deps.JWTSecret))

	auth := handlers.NewAuthHandler(deps.Sessions, deps.Codec, deps.TTLSecs, deps.JWTSecret)

	// ── Public pages ───────────────────────────────────────────────
	r.GET("/", handlers.Home)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "restaurant-review-app"})
	})
	r.GET("/users", handlers.ListUsers)
	r.GET("/users/:userId", handlers.ShowUser)

	// ── Auth pages ─────────────────────────────────────────────────
	r.GET("/auth/sign-up", auth.SignUpPage)
	r.POST("/auth/sign-up", auth.SignUp)
	r.GET("/auth/sign-in", auth.SignInPage)
	r.POST("/auth/sign-in", auth.SignIn)
	r.GET("/auth/sign-out", auth.SignOut)

	// ── Owner collection, guarded per request ──────────────────────
	owner := r.Group("/users/:userId/restaurants")
	owner.Use(middleware.RequireSession(), middleware.RequireOwner("userId"))
	{
		owner.GET("", handlers.ListRestaurants)
		owner.GET("/new", handlers.NewRestaurantPage)
		owner.POST("", handlers.CreateRestaurant)
		owner.GET("/:restaurantId", handlers.ShowRestaurant)
		owner.GET("/:restaurantId/edit", handlers.EditRestaurantPage)
		owner.POST("/:restaurantId", handlers.UpdateRestaurant)
		owner.POST("/:restaurantId/delete", handlers.DeleteRestaurant)
	}

	// Any signed-in member may rate any collection's restaurant.
	r.POST("/users/:userId/restaurants/:restaurantId/ratings",
		middleware.RequireSession(), handlers.SubmitReview)

	// ── JSON API ───────────────────────────────────────────────────
	api := r.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}))
	{
		api.POST("/auth/token", auth.Token)

		protected := api.Group("")
		protected.Use(middleware.RequireAuth())
		protected.GET("/users/:userId/restaurants",
			middleware.RequireOwnerAPI("userId"), handlers.APIListRestaurants)
		protected.POST("/users/:userId/restaurants/:restaurantId/ratings",
			handlers.APISubmitReview)
	}
}
