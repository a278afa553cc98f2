package handlers

import (
	"errors"
	"net/http"
	"strings"

	"restaurant-review-app/config"
	"restaurant-review-app/middleware"
	"restaurant-review-app/models"
	"restaurant-review-app/sessions"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// dummyHash keeps the bcrypt cost of a failed sign-in comparable whether or
// not the email exists.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

const msgAlreadyRegistered = "That username or email is already registered. Try signing in instead."

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

// AuthHandler owns sign-up, sign-in, sign-out and API token issuance.
type AuthHandler struct {
	store     sessions.Store
	codec     sessions.Codec
	ttlSecs   int
	jwtSecret []byte
}

func NewAuthHandler(store sessions.Store, codec sessions.Codec, ttlSecs int, jwtSecret []byte) *AuthHandler {
	return &AuthHandler{store: store, codec: codec, ttlSecs: ttlSecs, jwtSecret: jwtSecret}
}

type SignUpForm struct {
	Username string `form:"username" binding:"required"`
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required,min=6"`
}

type SignInForm struct {
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required"`
}

// SignUpPage renders the registration form.
func (h *AuthHandler) SignUpPage(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.HTML(http.StatusOK, "sign-up.html", gin.H{"user": user})
}

// SignUp registers an account and signs the new user in.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var form SignUpForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "sign-up.html", gin.H{
			"error": "Username, a valid email and a password of at least 6 characters are required.",
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(form.Email))
	var existing models.User
	err := config.DB.Where("email = ? OR username = ?", email, form.Username).First(&existing).Error
	if err == nil {
		c.HTML(http.StatusConflict, "sign-up.html", gin.H{"error": msgAlreadyRegistered})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.serverError(c, "sign-up.html", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		h.serverError(c, "sign-up.html", err)
		return
	}

	user := models.User{
		Username:     form.Username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := config.DB.Create(&user).Error; err != nil {
		// A concurrent sign-up can slip past the pre-check and lose to the
		// unique index; that is the same duplicate, not a server error.
		if isDuplicateKey(err) {
			c.HTML(http.StatusConflict, "sign-up.html", gin.H{"error": msgAlreadyRegistered})
			return
		}
		h.serverError(c, "sign-up.html", err)
		return
	}

	h.startSession(c, user, "/users/"+user.ID+"/restaurants")
}

// SignInPage renders the sign-in form.
func (h *AuthHandler) SignInPage(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.HTML(http.StatusOK, "sign-in.html", gin.H{"user": user})
}

// SignIn authenticates credentials and creates a session.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var form SignInForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "sign-in.html", gin.H{
			"error": "Email and password are required.",
		})
		return
	}

	user, err := authenticate(form.Email, form.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		c.HTML(http.StatusUnauthorized, "sign-in.html", gin.H{
			"error": "Wrong email/password combination. Try again.",
		})
		return
	}
	if err != nil {
		h.serverError(c, "sign-in.html", err)
		return
	}

	h.startSession(c, user, "/users/"+user.ID+"/restaurants")
}

// SignOut destroys the session and clears the cookie.
func (h *AuthHandler) SignOut(c *gin.Context) {
	if value, err := c.Cookie(middleware.SessionCookie); err == nil {
		if sessionID, ok := h.codec.Decode(value); ok {
			_ = h.store.Delete(c.Request.Context(), sessionID)
		}
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/")
}

// authenticate verifies credentials against the accounts table. Unknown email
// and wrong password are indistinguishable to the caller, and both paths do a
// bcrypt comparison.
func authenticate(email, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := config.DB.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (h *AuthHandler) startSession(c *gin.Context, user models.User, redirectTo string) {
	identity := sessions.Identity{AccountID: user.ID, Username: user.Username}
	sessionID, err := h.store.Create(c.Request.Context(), identity)
	if err != nil {
		h.serverError(c, "sign-in.html", err)
		return
	}
	c.SetCookie(middleware.SessionCookie, h.codec.Encode(sessionID), h.ttlSecs, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, redirectTo)
}

func (h *AuthHandler) serverError(c *gin.Context, template string, err error) {
	logError(c, err)
	c.HTML(http.StatusInternalServerError, template, gin.H{
		"error": "Something went wrong. Please try again.",
	})
}
