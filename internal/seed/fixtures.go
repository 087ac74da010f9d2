package seed

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"realmeal/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Fixture is a hand-written data set loaded from YAML:
//
//	users:
//	  - key: chef
//	    email: chef@example.com
//	    nickname: Chef
//	  - key: lurker
//	    anonymous: true
//	posts:
//	  - author: chef
//	    description: Tonkotsu ramen
//	    age: 48h
//	    real: 12
//	    comments:
//	      - author: lurker
//	        text: looks real
type Fixture struct {
	Users []FixtureUser `yaml:"users"`
	Posts []FixturePost `yaml:"posts"`
}

// FixtureUser is an account referenced by key from posts and comments.
type FixtureUser struct {
	Key       string `yaml:"key"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Nickname  string `yaml:"nickname"`
	Anonymous bool   `yaml:"anonymous"`
}

// FixturePost is a post whose creation time is Age before the load.
type FixturePost struct {
	Author      string           `yaml:"author"`
	Description string           `yaml:"description"`
	ImageURL    string           `yaml:"image_url"`
	Age         time.Duration    `yaml:"age"`
	Real        int              `yaml:"real"`
	Fake        int              `yaml:"fake"`
	Comments    []FixtureComment `yaml:"comments"`
}

// FixtureComment is appended to its post in file order.
type FixtureComment struct {
	Author string `yaml:"author"`
	Text   string `yaml:"text"`
}

// LoadFixture decodes and checks a YAML fixture.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (fx *Fixture) validate() error {
	keys := make(map[string]bool, len(fx.Users))
	for i, u := range fx.Users {
		if u.Key == "" {
			return fmt.Errorf("users[%d]: key is required", i)
		}
		if keys[u.Key] {
			return fmt.Errorf("users[%d]: duplicate key %q", i, u.Key)
		}
		if !u.Anonymous && u.Email == "" {
			return fmt.Errorf("users[%d]: email is required unless anonymous", i)
		}
		keys[u.Key] = true
	}
	for i, p := range fx.Posts {
		if !keys[p.Author] {
			return fmt.Errorf("posts[%d]: unknown author %q", i, p.Author)
		}
		if strings.TrimSpace(p.Description) == "" {
			return fmt.Errorf("posts[%d]: description is required", i)
		}
		if p.Real < 0 || p.Real > models.MaxReactionCount || p.Fake < 0 || p.Fake > models.MaxReactionCount {
			return fmt.Errorf("posts[%d]: counters must be within 0..%d", i, models.MaxReactionCount)
		}
		for j, c := range p.Comments {
			if !keys[c.Author] {
				return fmt.Errorf("posts[%d].comments[%d]: unknown author %q", i, j, c.Author)
			}
		}
	}
	return nil
}

// Apply writes the fixture through a Factory and reports what it created.
func (fx *Fixture) Apply(ctx context.Context, db *gorm.DB, opts Options) (*Summary, error) {
	f := NewFactory(db, opts)
	summary := &Summary{}

	users := make(map[string]*models.User, len(fx.Users))
	for _, fu := range fx.Users {
		var (
			u   *models.User
			err error
		)
		if fu.Anonymous {
			u, err = f.CreateAnonymousUser(ctx)
		} else {
			u, err = f.createFixtureUser(ctx, fu)
		}
		if err != nil {
			return summary, fmt.Errorf("user %q: %w", fu.Key, err)
		}
		users[fu.Key] = u
		summary.Users++
	}

	for i, fp := range fx.Posts {
		fp := fp
		post, err := f.CreatePost(ctx, users[fp.Author], func(p *models.Post) {
			p.Description = strings.TrimSpace(fp.Description)
			p.RealCount = fp.Real
			p.FakeCount = fp.Fake
			p.CreatedAt = f.now().Add(-fp.Age)
			if fp.ImageURL != "" {
				p.ImageURL = fp.ImageURL
			}
		})
		if err != nil {
			return summary, fmt.Errorf("posts[%d]: %w", i, err)
		}
		summary.Posts++

		for j, fc := range fp.Comments {
			text := strings.TrimSpace(fc.Text)
			if _, err := f.CreateComment(ctx, users[fc.Author], post, func(c *models.Comment) {
				if text != "" {
					c.Text = text
				}
			}); err != nil {
				return summary, fmt.Errorf("posts[%d].comments[%d]: %w", i, j, err)
			}
			summary.Comments++
		}
	}
	return summary, nil
}

func (f *Factory) createFixtureUser(ctx context.Context, fu FixtureUser) (*models.User, error) {
	password := fu.Password
	if password == "" {
		password = DefaultPassword
	}
	hash, err := f.hashPassword(password)
	if err != nil {
		return nil, err
	}
	return f.CreateUser(ctx, func(u *models.User) {
		email := strings.ToLower(strings.TrimSpace(fu.Email))
		u.Email = &email
		u.PasswordHash = hash
		if fu.Nickname != "" {
			u.Nickname = fu.Nickname
		}
	})
}
