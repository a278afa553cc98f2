package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"restaurant-review-app/config"
	"restaurant-review-app/middleware"
	"restaurant-review-app/models"
	"restaurant-review-app/routes"
	"restaurant-review-app/sessions"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

// memStore is an in-memory sessions.Store for tests.
type memStore struct {
	mu   sync.Mutex
	seq  int
	byID map[string]sessions.Identity
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]sessions.Identity{}}
}

func (s *memStore) Create(_ context.Context, id sessions.Identity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sessionID := fmt.Sprintf("sess-%d", s.seq)
	s.byID[sessionID] = id
	return sessionID, nil
}

func (s *memStore) Get(_ context.Context, sessionID string) (sessions.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byID[sessionID]
	return id, ok
}

func (s *memStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
	return nil
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	// A named shared-cache DB keeps every pooled connection in this test on
	// the same in-memory database, isolated from other tests.
	config.InitDB("file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared")

	r := gin.New()
	r.LoadHTMLGlob("../templates/*.html")
	routes.Setup(r, routes.Deps{
		Sessions:  newMemStore(),
		Codec:     sessions.NewCodec(testSecret),
		JWTSecret: []byte(testSecret),
		TTLSecs:   3600,
	})
	return r
}

func do(r *gin.Engine, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r *gin.Engine, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// signUp registers a user and returns their account ID and session cookie.
func signUp(t *testing.T, r *gin.Engine, username, email string) (string, *http.Cookie) {
	t.Helper()
	w := do(r, http.MethodPost, "/auth/sign-up", url.Values{
		"username": {username},
		"email":    {email},
		"password": {"secret123"},
	}, nil)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("sign-up status = %d, body %q", w.Code, w.Body.String())
	}

	loc := w.Header().Get("Location")
	id := strings.TrimSuffix(strings.TrimPrefix(loc, "/users/"), "/restaurants")
	if id == "" || strings.Contains(id, "/") {
		t.Fatalf("unexpected sign-up redirect %q", loc)
	}

	res := w.Result()
	for _, ck := range res.Cookies() {
		if ck.Name == middleware.SessionCookie {
			return id, ck
		}
	}
	t.Fatal("sign-up did not set a session cookie")
	return "", nil
}

func fetchRestaurant(t *testing.T, ownerID string) models.Restaurant {
	t.Helper()
	var restaurant models.Restaurant
	if err := config.DB.Preload("Ratings").Where("owner_id = ?", ownerID).First(&restaurant).Error; err != nil {
		t.Fatalf("fetch restaurant: %v", err)
	}
	return restaurant
}

func TestRestaurantLifecycleAndRatings(t *testing.T) {
	r := setupRouter(t)

	anaID, anaCookie := signUp(t, r, "ana", "ana@example.com")

	// Create a restaurant; the creation form's stars become ana's own rating.
	w := do(r, http.MethodPost, "/users/"+anaID+"/restaurants", url.Values{
		"name":    {"Trattoria Da Enzo"},
		"cuisine": {"Italian"},
		"stars":   {"5"},
		"review":  {"best cacio e pepe in town"},
	}, anaCookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("create status = %d, body %q", w.Code, w.Body.String())
	}

	restaurant := fetchRestaurant(t, anaID)
	if restaurant.AverageRating != 5.0 || len(restaurant.Ratings) != 1 {
		t.Fatalf("after create: average=%v count=%d, want 5.0 and 1", restaurant.AverageRating, len(restaurant.Ratings))
	}

	// A second member rates it 3: average becomes 4.0.
	_, bobCookie := signUp(t, r, "bob", "bob@example.com")
	w = do(r, http.MethodPost, "/users/"+anaID+"/restaurants/"+restaurant.ID+"/ratings", url.Values{
		"stars":   {"3"},
		"comment": {"decent"},
	}, bobCookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("rate status = %d, body %q", w.Code, w.Body.String())
	}

	restaurant = fetchRestaurant(t, anaID)
	if restaurant.AverageRating != 4.0 || len(restaurant.Ratings) != 2 {
		t.Fatalf("after bob: average=%v count=%d, want 4.0 and 2", restaurant.AverageRating, len(restaurant.Ratings))
	}

	// Ana resubmits 1 star: her entry is replaced, count stays 2, average 2.0.
	w = do(r, http.MethodPost, "/users/"+anaID+"/restaurants/"+restaurant.ID+"/ratings", url.Values{
		"stars": {"1"},
	}, anaCookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("re-rate status = %d, body %q", w.Code, w.Body.String())
	}

	restaurant = fetchRestaurant(t, anaID)
	if restaurant.AverageRating != 2.0 || len(restaurant.Ratings) != 2 {
		t.Fatalf("after re-rate: average=%v count=%d, want 2.0 and 2", restaurant.AverageRating, len(restaurant.Ratings))
	}

	// Invalid stars leave everything untouched.
	w = doJSON(r, http.MethodPost,
		"/api/users/"+anaID+"/restaurants/"+restaurant.ID+"/ratings",
		`{"stars":"9"}`, apiToken(t, r, "ana@example.com"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid stars status = %d, body %q", w.Code, w.Body.String())
	}
	restaurant = fetchRestaurant(t, anaID)
	if restaurant.AverageRating != 2.0 || len(restaurant.Ratings) != 2 {
		t.Fatalf("invalid rating mutated state: average=%v count=%d", restaurant.AverageRating, len(restaurant.Ratings))
	}

	// Rating an unknown restaurant is a 404.
	w = do(r, http.MethodPost, "/users/"+anaID+"/restaurants/nope/ratings", url.Values{
		"stars": {"4"},
	}, bobCookie)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown restaurant status = %d", w.Code)
	}
}

func TestOwnershipGuardOnCollections(t *testing.T) {
	r := setupRouter(t)

	anaID, _ := signUp(t, r, "ana", "ana@example.com")
	_, bobCookie := signUp(t, r, "bob", "bob@example.com")

	// Bob cannot open ana's collection, in either surface.
	w := do(r, http.MethodGet, "/users/"+anaID+"/restaurants", nil, bobCookie)
	if w.Code != http.StatusForbidden {
		t.Fatalf("html guard status = %d, want 403", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/users/"+anaID+"/restaurants", "", apiToken(t, r, "bob@example.com"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("api guard status = %d, want 403", w.Code)
	}

	// Anonymous callers are sent to sign-in, not told they lack rights.
	w = do(r, http.MethodGet, "/users/"+anaID+"/restaurants", nil, nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != middleware.SignInPath {
		t.Fatalf("anonymous: status = %d location = %q", w.Code, w.Header().Get("Location"))
	}
}

func TestSignInDoesNotLeakWhichFieldWasWrong(t *testing.T) {
	r := setupRouter(t)
	signUp(t, r, "ana", "ana@example.com")

	wrongPassword := do(r, http.MethodPost, "/auth/sign-in", url.Values{
		"email":    {"ana@example.com"},
		"password": {"not-her-password"},
	}, nil)
	unknownEmail := do(r, http.MethodPost, "/auth/sign-in", url.Values{
		"email":    {"nobody@example.com"},
		"password": {"whatever1"},
	}, nil)

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d, want 401 for both", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatal("sign-in error pages differ between wrong password and unknown email")
	}
}

func TestSignInAndOutRoundTrip(t *testing.T) {
	r := setupRouter(t)
	anaID, _ := signUp(t, r, "ana", "ana@example.com")

	w := do(r, http.MethodPost, "/auth/sign-in", url.Values{
		"email":    {"ana@example.com"},
		"password": {"secret123"},
	}, nil)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("sign-in status = %d, body %q", w.Code, w.Body.String())
	}

	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.SessionCookie {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatal("sign-in did not set a session cookie")
	}

	if w := do(r, http.MethodGet, "/users/"+anaID+"/restaurants", nil, cookie); w.Code != http.StatusOK {
		t.Fatalf("collection after sign-in: status = %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/auth/sign-out", nil, cookie); w.Code != http.StatusSeeOther {
		t.Fatalf("sign-out status = %d", w.Code)
	}

	// The destroyed session no longer authenticates.
	if w := do(r, http.MethodGet, "/users/"+anaID+"/restaurants", nil, cookie); w.Code != http.StatusSeeOther {
		t.Fatalf("stale session status = %d, want redirect", w.Code)
	}
}

func TestDuplicateSignUpRejected(t *testing.T) {
	r := setupRouter(t)
	signUp(t, r, "ana", "ana@example.com")

	w := do(r, http.MethodPost, "/auth/sign-up", url.Values{
		"username": {"ana"},
		"email":    {"other@example.com"},
		"password": {"secret123"},
	}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate username status = %d, want 409", w.Code)
	}

	w = do(r, http.MethodPost, "/auth/sign-up", url.Values{
		"username": {"ana2"},
		"email":    {"ANA@example.com"}, // duplicate modulo case
		"password": {"secret123"},
	}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate email status = %d, want 409", w.Code)
	}
}

func TestAPIListAndRate(t *testing.T) {
	r := setupRouter(t)
	anaID, anaCookie := signUp(t, r, "ana", "ana@example.com")

	w := do(r, http.MethodPost, "/users/"+anaID+"/restaurants", url.Values{
		"name":    {"Sushi Dai"},
		"cuisine": {"Japanese"},
		"stars":   {"4"},
	}, anaCookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("create status = %d", w.Code)
	}
	restaurant := fetchRestaurant(t, anaID)

	token := apiToken(t, r, "ana@example.com")
	w = doJSON(r, http.MethodGet, "/api/users/"+anaID+"/restaurants", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("api list status = %d, body %q", w.Code, w.Body.String())
	}
	var listResp struct {
		Restaurants []models.Restaurant `json:"restaurants"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Restaurants) != 1 || listResp.Restaurants[0].AverageRating != 4.0 {
		t.Fatalf("unexpected list response: %+v", listResp)
	}

	// Identical resubmission is idempotent.
	for i := 0; i < 2; i++ {
		w = doJSON(r, http.MethodPost,
			"/api/users/"+anaID+"/restaurants/"+restaurant.ID+"/ratings",
			`{"stars":"4","comment":"fresh"}`, token)
		if w.Code != http.StatusOK {
			t.Fatalf("api rate status = %d, body %q", w.Code, w.Body.String())
		}
	}
	var rateResp struct {
		AverageRating float64 `json:"average_rating"`
		RatingCount   int     `json:"rating_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rateResp); err != nil {
		t.Fatalf("decode rate: %v", err)
	}
	if rateResp.AverageRating != 4.0 || rateResp.RatingCount != 1 {
		t.Fatalf("idempotent resubmit: %+v, want average 4.0 count 1", rateResp)
	}
}

func apiToken(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/auth/token",
		fmt.Sprintf(`{"email":%q,"password":"secret123"}`, email), "")
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %q", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return resp.Token
}

// createRestaurant posts the standard creation form and returns the stored row.
func createRestaurant(t *testing.T, r *gin.Engine, ownerID string, cookie *http.Cookie, stars string) models.Restaurant {
	t.Helper()
	w := do(r, http.MethodPost, "/users/"+ownerID+"/restaurants", url.Values{
		"name":    {"Trattoria Da Enzo"},
		"cuisine": {"Italian"},
		"stars":   {stars},
	}, cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("create status = %d, body %q", w.Code, w.Body.String())
	}
	return fetchRestaurant(t, ownerID)
}

// bumpVersionOnRead bumps the restaurant's version right after each of the
// first maxBumps reads of the restaurants table, so the reader's conditional
// write loses the version check — the same interleaving as a concurrent
// rating submission. Returns a counter of induced conflicts.
func bumpVersionOnRead(t *testing.T, restaurantID string, maxBumps int) *int {
	t.Helper()
	bumps := 0
	err := config.DB.Callback().Query().After("gorm:query").Register("stale_read", func(tx *gorm.DB) {
		if tx.Statement.Table != "restaurants" || bumps >= maxBumps {
			return
		}
		bumps++
		config.DB.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE restaurants SET version = version + 1 WHERE id = ?", restaurantID)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	t.Cleanup(func() {
		_ = config.DB.Callback().Query().Remove("stale_read")
	})
	return &bumps
}

func TestRatingRetriesOnceAfterVersionConflict(t *testing.T) {
	r := setupRouter(t)
	anaID, anaCookie := signUp(t, r, "ana", "ana@example.com")
	restaurant := createRestaurant(t, r, anaID, anaCookie, "5")
	signUp(t, r, "bob", "bob@example.com")
	bobToken := apiToken(t, r, "bob@example.com")

	// One concurrent writer wins the version check against bob's first
	// attempt; the retry reads fresh state and succeeds.
	bumps := bumpVersionOnRead(t, restaurant.ID, 1)

	w := doJSON(r, http.MethodPost,
		"/api/users/"+anaID+"/restaurants/"+restaurant.ID+"/ratings",
		`{"stars":"3","comment":"decent"}`, bobToken)
	if w.Code != http.StatusOK {
		t.Fatalf("rate status = %d, body %q", w.Code, w.Body.String())
	}
	if *bumps != 1 {
		t.Fatalf("induced %d conflicts, want 1", *bumps)
	}

	var rateResp struct {
		AverageRating float64 `json:"average_rating"`
		RatingCount   int     `json:"rating_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rateResp); err != nil {
		t.Fatalf("decode rate: %v", err)
	}
	if rateResp.AverageRating != 4.0 || rateResp.RatingCount != 2 {
		t.Fatalf("after retried write: %+v, want average 4.0 count 2", rateResp)
	}
}

func TestRatingConflictSurfacedAfterSecondLoss(t *testing.T) {
	r := setupRouter(t)
	anaID, anaCookie := signUp(t, r, "ana", "ana@example.com")
	restaurant := createRestaurant(t, r, anaID, anaCookie, "5")
	signUp(t, r, "bob", "bob@example.com")
	bobToken := apiToken(t, r, "bob@example.com")

	// Both the first attempt and the single retry lose the version check.
	bumps := bumpVersionOnRead(t, restaurant.ID, 2)

	w := doJSON(r, http.MethodPost,
		"/api/users/"+anaID+"/restaurants/"+restaurant.ID+"/ratings",
		`{"stars":"3"}`, bobToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("rate status = %d, want 409 (body %q)", w.Code, w.Body.String())
	}
	if *bumps != 2 {
		t.Fatalf("induced %d conflicts, want 2 (read, retry, then give up)", *bumps)
	}

	// The restaurant is untouched by the abandoned write.
	restaurant = fetchRestaurant(t, anaID)
	if restaurant.AverageRating != 5.0 || len(restaurant.Ratings) != 1 {
		t.Fatalf("state after conflict: average=%v count=%d, want 5.0 and 1",
			restaurant.AverageRating, len(restaurant.Ratings))
	}
}

func TestSignUpLosingRaceGetsFriendlyConflict(t *testing.T) {
	r := setupRouter(t)

	// A rival registration commits between the duplicate pre-check and the
	// insert, so the insert loses to the unique index.
	raced := false
	err := config.DB.Callback().Create().Before("gorm:create").Register("race_duplicate", func(tx *gorm.DB) {
		if tx.Statement.Table != "users" || raced {
			return
		}
		raced = true
		now := time.Now().UTC()
		config.DB.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO users (id, username, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			"rival-1", "ana", "ana@example.com", "x", now, now)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	t.Cleanup(func() {
		_ = config.DB.Callback().Create().Remove("race_duplicate")
	})

	w := do(r, http.MethodPost, "/auth/sign-up", url.Values{
		"username": {"ana"},
		"email":    {"ana@example.com"},
		"password": {"secret123"},
	}, nil)
	if !raced {
		t.Fatal("rival insert never ran")
	}
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %q)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "already registered") {
		t.Fatalf("body %q does not carry the duplicate-account message", w.Body.String())
	}
}

func TestCaseShiftedOwnerPathResolves(t *testing.T) {
	r := setupRouter(t)
	anaID, anaCookie := signUp(t, r, "ana", "ana@example.com")
	restaurant := createRestaurant(t, r, anaID, anaCookie, "4")
	upper := strings.ToUpper(anaID)

	// The guard normalizes IDs, so the lookups behind it must agree: a
	// case-shifted URL from the owner resolves instead of 404ing.
	w := do(r, http.MethodGet, "/users/"+upper+"/restaurants/"+restaurant.ID, nil, anaCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("show via upper-cased path: status = %d", w.Code)
	}

	token := apiToken(t, r, "ana@example.com")
	w = doJSON(r, http.MethodGet, "/api/users/"+upper+"/restaurants", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("api list via upper-cased path: status = %d", w.Code)
	}
	var listResp struct {
		Restaurants []models.Restaurant `json:"restaurants"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Restaurants) != 1 {
		t.Fatalf("got %d restaurants, want 1", len(listResp.Restaurants))
	}

	// Rating through a case-shifted path reaches the same restaurant.
	_, bobCookie := signUp(t, r, "bob", "bob@example.com")
	w = do(r, http.MethodPost, "/users/"+upper+"/restaurants/"+restaurant.ID+"/ratings", url.Values{
		"stars": {"2"},
	}, bobCookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("rate via upper-cased path: status = %d", w.Code)
	}
	restaurant = fetchRestaurant(t, anaID)
	if restaurant.AverageRating != 3.0 || len(restaurant.Ratings) != 2 {
		t.Fatalf("after rating: average=%v count=%d, want 3.0 and 2",
			restaurant.AverageRating, len(restaurant.Ratings))
	}

	// Normalization never widens access: another account is still denied.
	w = doJSON(r, http.MethodGet, "/api/users/"+upper+"/restaurants", "", apiToken(t, r, "bob@example.com"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("bob via upper-cased path: status = %d, want 403", w.Code)
	}
}
