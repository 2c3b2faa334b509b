package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// RouterDeps carries the services built once in main.
type RouterDeps struct {
	UoW           UnitOfWork
	Tokens        *TokenService
	Users         *UserService
	Music         *MusicService
	Subscriptions *SubscriptionService
	// Status is nil unless notifications go through the Redis queue.
	Status *NotificationStatusService
	Logger *slog.Logger
}

// maxCSVUpload caps the size of a song import.
const maxCSVUpload = 10 << 20

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	uow := deps.UoW

	r := gin.New()
	// Client IPs feed the rate limiter, so forwarded headers count only from
	// configured proxies.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error("ignoring invalid trusted proxies", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(MetricsMiddleware())
	r.Use(OriginRefererMiddleware(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", MetricsHandler())

	limiter := NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst, log)
	authed := RequireBearer(deps.Tokens, deps.Users, uow, log)

	api := r.Group("/api")

	users := api.Group("/users")
	{
		users.POST("/register/", limiter.Handler(), func(c *gin.Context) {
			var req RegisterInput
			if err := bindJSON(c, &req); err != nil {
				respondAppError(c, log, err)
				return
			}
			var token string
			err := uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				user, err := deps.Users.Register(ctx, q, req)
				if err != nil {
					return err
				}
				token, err = issueToken(deps.Tokens, user.ID)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"access_token": token})
		})

		users.POST("/login/", limiter.Handler(), func(c *gin.Context) {
			var req struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if err := bindJSON(c, &req); err != nil {
				respondAppError(c, log, err)
				return
			}
			var token string
			err := uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				user, err := deps.Users.Login(ctx, q, req.Email, req.Password)
				if err != nil {
					return err
				}
				token, err = issueToken(deps.Tokens, user.ID)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"access_token": token})
		})

		users.GET("/me/", authed, func(c *gin.Context) {
			creds, _ := CredentialsFrom(c)
			c.JSON(http.StatusOK, creds.User)
		})

		users.PATCH("/username/", authed, func(c *gin.Context) {
			creds, _ := CredentialsFrom(c)
			username, ok := c.GetQuery("username")
			if !ok {
				var req struct {
					Username string `json:"username"`
				}
				if err := bindJSON(c, &req); err != nil {
					respondAppError(c, log, err)
					return
				}
				username = req.Username
			}
			var out UserProfile
			err := uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				var err error
				out, err = deps.Users.ChangeUsername(ctx, q, creds.User.ID, username)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}

	api.POST("/subscriptions/subscribe/", authed, func(c *gin.Context) {
		creds, _ := CredentialsFrom(c)
		var req struct {
			BandID int64 `json:"band_id"`
		}
		if err := bindJSON(c, &req); err != nil {
			respondAppError(c, log, err)
			return
		}
		err := uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
			_, err := deps.Subscriptions.Subscribe(ctx, q, creds.User.Email, req.BandID)
			return err
		})
		if err != nil {
			respondAppError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("User subscribed to band %d", req.BandID)})
	})

	music := api.Group("/music", authed)
	{
		music.POST("/", func(c *gin.Context) {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				respondAppError(c, log, Validation("Wrong input data"))
				return
			}
			in, err := DecodeMusicInput(body)
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			var out MusicOut
			err = uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				var err error
				out, err = deps.Music.Add(ctx, q, in)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		music.GET("/", func(c *gin.Context) {
			t, err := ParseMusicType(c.Query("music_type"))
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			var out MusicOut
			err = uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				var err error
				out, err = deps.Music.List(ctx, q, t)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		music.PATCH("/", func(c *gin.Context) {
			var req struct {
				Type    MusicType `json:"type"`
				NewName string    `json:"new_name"`
				MusicID int64     `json:"music_id"`
			}
			if err := bindJSON(c, &req); err != nil {
				respondAppError(c, log, err)
				return
			}
			var out MusicOut
			err := uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				var err error
				out, err = deps.Music.Rename(ctx, q, req.Type, req.MusicID, req.NewName)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		music.DELETE("/", func(c *gin.Context) {
			t, err := ParseMusicType(c.Query("music_type"))
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			id, err := strconv.ParseInt(c.Query("music_id"), 10, 64)
			if err != nil {
				respondAppError(c, log, Validation("music_id must be an integer"))
				return
			}
			err = uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				return deps.Music.Delete(ctx, q, t, id)
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "Music object deleted successfully"})
		})

		music.POST("/csv_upload", func(c *gin.Context) {
			src, err := csvUploadBody(c)
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			defer src.Close()

			var count int
			err = uow.Do(c.Request.Context(), func(ctx context.Context, q Querier) error {
				var err error
				count, err = deps.Music.ImportSongsCSV(ctx, q, src)
				return err
			})
			if err != nil {
				respondAppError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "Songs added successfully", "count": count})
		})
	}

	api.GET("/notifications/status", authed, func(c *gin.Context) {
		if deps.Status == nil {
			c.JSON(http.StatusOK, gin.H{"notifier": NotifierLog})
			return
		}
		st, err := deps.Status.Collect(c.Request.Context())
		if err != nil {
			respondAppError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	return r
}

// bindJSON decodes the request body into dst, reporting any failure as a
// Validation error.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return Validation("Wrong input data")
	}
	return nil
}

func issueToken(tokens *TokenService, userID int64) (string, error) {
	token, err := tokens.Issue(userID)
	if err != nil {
		return "", Internal("failed to issue token", err)
	}
	return token, nil
}

// csvUploadBody returns the CSV to import: the multipart "file" field, or
// the raw body when it is sent as text/csv.
func csvUploadBody(c *gin.Context) (io.ReadCloser, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCSVUpload)

	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "text/csv" {
		return c.Request.Body, nil
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, Validation("send the CSV as multipart field \"file\" or as a text/csv body")
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, Validation("file field with a CSV is required")
	}
	if ct := fileHeader.Header.Get("Content-Type"); ct != "" {
		if mt, _, _ := mime.ParseMediaType(ct); mt != "text/csv" && mt != "application/vnd.ms-excel" && mt != "application/octet-stream" {
			return nil, Validation("Invalid file type. Only CSV files are allowed.")
		}
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, Validation("file could not be opened")
	}
	return file, nil
}
