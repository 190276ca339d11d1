package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/accountsvc/apiserver/internal/events"
	"github.com/accountsvc/apiserver/internal/store"
	"github.com/accountsvc/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when login credentials do not match
// any account.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountDisabled is returned when credentials match but the account
// is disabled or locked.
var ErrAccountDisabled = errors.New("account disabled")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsernameOrEmail(ctx context.Context, identifier string) (types.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByID(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]types.User, error)
	ListByRole(ctx context.Context, role types.Role) ([]types.User, error)
	ListEnabled(ctx context.Context) ([]types.User, error)
	CountByRole(ctx context.Context, role types.Role) (int64, error)
	CountEnabled(ctx context.Context) (int64, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int64) error
}

// RegisterParams carries the fields accepted at registration. The
// password arrives in plaintext and leaves this package only as a
// bcrypt digest.
type RegisterParams struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// UpdateParams carries the optional fields of an account update. Nil
// means "not provided"; for Username and Email an empty string is also
// treated as not provided.
type UpdateParams struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	IsEnabled *bool
}

// UserService encapsulates user-account use-cases.
type UserService struct {
	repo      UserRepository
	publisher *events.Publisher
}

func NewUserService(repo UserRepository, publisher *events.Publisher) *UserService {
	return &UserService{repo: repo, publisher: publisher}
}

// Register creates a new account with role USER, all status flags set,
// and the password stored as a bcrypt digest.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (types.UserView, error) {
	// Best-effort pre-checks; the unique indices catch races at commit.
	if taken, err := s.repo.ExistsByUsername(ctx, params.Username); err != nil {
		return types.UserView{}, err
	} else if taken {
		return types.UserView{}, store.ErrConflict
	}
	if taken, err := s.repo.ExistsByEmail(ctx, params.Email); err != nil {
		return types.UserView{}, err
	} else if taken {
		return types.UserView{}, store.ErrConflict
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return types.UserView{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:                params.Username,
		Email:                   params.Email,
		Password:                string(hashed),
		FirstName:               params.FirstName,
		LastName:                params.LastName,
		Role:                    types.RoleUser,
		IsEnabled:               true,
		IsAccountNonLocked:      true,
		IsAccountNonExpired:     true,
		IsCredentialsNonExpired: true,
	})
	if err != nil {
		return types.UserView{}, err
	}

	s.publish(ctx, events.TypeUserRegistered, user)
	return types.NewUserView(user), nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.UserView, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.UserView{}, err
	}
	return types.NewUserView(user), nil
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.UserView, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return types.UserView{}, err
	}
	return types.NewUserView(user), nil
}

func (s *UserService) GetAll(ctx context.Context) ([]types.UserView, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return projectUsers(users), nil
}

// Update applies the provided fields to an existing account. Password,
// role, and timestamps are never updated through this operation.
func (s *UserService) Update(ctx context.Context, id int64, params UpdateParams) (types.UserView, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.UserView{}, err
	}

	if params.Username != nil && *params.Username != "" && *params.Username != user.Username {
		if taken, err := s.repo.ExistsByUsername(ctx, *params.Username); err != nil {
			return types.UserView{}, err
		} else if taken {
			return types.UserView{}, store.ErrConflict
		}
		user.Username = *params.Username
	}

	if params.Email != nil && *params.Email != "" && *params.Email != user.Email {
		if taken, err := s.repo.ExistsByEmail(ctx, *params.Email); err != nil {
			return types.UserView{}, err
		} else if taken {
			return types.UserView{}, store.ErrConflict
		}
		user.Email = *params.Email
	}

	if params.FirstName != nil {
		user.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		user.LastName = *params.LastName
	}
	if params.IsEnabled != nil {
		user.IsEnabled = *params.IsEnabled
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.UserView{}, err
	}

	s.publish(ctx, events.TypeUserUpdated, updated)
	return types.NewUserView(updated), nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	exists, err := s.repo.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, events.TypeUserDeleted, user)
	return nil
}

// ToggleStatus flips the enabled flag of an account.
func (s *UserService) ToggleStatus(ctx context.Context, id int64) (types.UserView, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.UserView{}, err
	}

	user.IsEnabled = !user.IsEnabled
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.UserView{}, err
	}

	s.publish(ctx, events.TypeUserStatusToggled, updated)
	return types.NewUserView(updated), nil
}

// UpdateLastLogin stamps the last login time of the named account. A
// missing account is a silent no-op.
func (s *UserService) UpdateLastLogin(ctx context.Context, username string) error {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	now := time.Now()
	user.LastLogin = &now
	_, err = s.repo.Update(ctx, user)
	return err
}

func (s *UserService) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.repo.ExistsByUsername(ctx, username)
}

func (s *UserService) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.repo.ExistsByEmail(ctx, email)
}

func (s *UserService) GetUsersByRole(ctx context.Context, role types.Role) ([]types.UserView, error) {
	users, err := s.repo.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return projectUsers(users), nil
}

func (s *UserService) EnabledUsersCount(ctx context.Context) (int64, error) {
	return s.repo.CountEnabled(ctx)
}

// Authenticate verifies credentials against the account matching the
// identifier (username or email, exact). It is used only by the login
// endpoint; the returned user still carries its password hash.
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (types.User, error) {
	user, err := s.repo.GetByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	if !user.IsEnabled || !user.IsAccountNonLocked {
		return types.User{}, ErrAccountDisabled
	}
	return user, nil
}

func (s *UserService) publish(ctx context.Context, eventType string, user types.User) {
	err := s.publisher.Publish(ctx, events.UserEvent{
		Type:     eventType,
		UserID:   user.ID,
		Username: user.Username,
	})
	if err != nil {
		log.Printf("events: publish %s failed: %v", eventType, err)
	}
}

func projectUsers(users []types.User) []types.UserView {
	views := make([]types.UserView, 0, len(users))
	for _, user := range users {
		views = append(views, types.NewUserView(user))
	}
	return views
}
