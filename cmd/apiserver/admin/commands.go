package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"friends-go/internal/auth"
	"friends-go/internal/config"
	"friends-go/internal/logging"
	"friends-go/internal/models"
	appRedis "friends-go/internal/redis"
	"friends-go/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05"

// adminEnv is what every command operates on.
type adminEnv struct {
	repo      storage.RelationshipRepository
	blacklist auth.TokenBlacklist
	authCfg   config.AuthConfig
	close     func()
}

// newApp builds the admin CLI. A nil env is opened from configuration before the first command runs.
func newApp(env *adminEnv) *cli.App {
	app := &cli.App{
		Name:  "admin",
		Usage: "inspect and repair friend relationships",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				EnvVars: []string{"FRIENDS_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			if env != nil {
				return nil
			}
			opened, err := openEnv(c.Context, c.String("config"))
			if err != nil {
				return err
			}
			env = opened
			return nil
		},
		After: func(c *cli.Context) error {
			if env != nil && env.close != nil {
				env.close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "显示两个用户之间的关系记录",
				ArgsUsage: "<userA> <userB>",
				Action:    func(c *cli.Context) error { return showAction(c, env) },
			},
			{
				Name:      "list",
				Usage:     "列出用户指定状态的全部关系",
				ArgsUsage: "<userId> <PENDING|ACCEPTED|DECLINED|BLOCKED|SUBSCRIBED>",
				Action:    func(c *cli.Context) error { return listAction(c, env) },
			},
			{
				Name:      "delete",
				Usage:     "删除一条关系记录",
				ArgsUsage: "<relationshipId>",
				Action:    func(c *cli.Context) error { return deleteAction(c, env) },
			},
			{
				Name:      "token",
				Usage:     "为用户签发测试用 JWT",
				ArgsUsage: "<userId>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: func(c *cli.Context) error { return tokenAction(c, env) },
			},
			{
				Name:      "revoke",
				Usage:     "将 token 加入黑名单",
				ArgsUsage: "<token>",
				Action:    func(c *cli.Context) error { return revokeAction(c, env) },
			},
		},
	}
	return app
}

func openEnv(ctx context.Context, configPath string) (*adminEnv, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("无法加载配置: %w", err)
	}
	logger := logging.Must("warn", "console")

	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	closers := []func(){}
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, func() { _ = sqlDB.Close() })
	}

	env := &adminEnv{
		repo:      storage.NewGormRelationshipRepository(db),
		blacklist: auth.NewMemoryBlacklist(),
		authCfg:   cfg.Auth,
	}
	if cfg.Redis.Enabled {
		client, err := appRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis 不可用，revoke 将无法持久化", zap.Error(err))
		} else {
			env.blacklist = appRedis.NewRedisTokenBlacklist(client)
			closers = append(closers, func() { _ = client.Close() })
		}
	}
	env.close = func() {
		for _, fn := range closers {
			fn()
		}
	}
	return env, nil
}

func uuidArg(c *cli.Context, i int, name string) (uuid.UUID, error) {
	raw := c.Args().Get(i)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("需要指定%s", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("无效的%s: %w", name, err)
	}
	return id, nil
}

func showAction(c *cli.Context, env *adminEnv) error {
	a, err := uuidArg(c, 0, "userA")
	if err != nil {
		return err
	}
	b, err := uuidArg(c, 1, "userB")
	if err != nil {
		return err
	}
	rel, err := env.repo.FindByPair(c.Context, a, b)
	if err != nil {
		return fmt.Errorf("查找关系失败: %w", err)
	}
	out := c.App.Writer
	if rel == nil {
		fmt.Fprintf(out, "%s 与 %s 之间没有关系记录\n", a, b)
		return nil
	}
	printRelationship(out, rel)
	return nil
}

func listAction(c *cli.Context, env *adminEnv) error {
	userID, err := uuidArg(c, 0, "用户ID")
	if err != nil {
		return err
	}
	status, err := models.ParseRelationshipStatus(c.Args().Get(1))
	if err != nil {
		return err
	}
	rels, err := env.repo.ListAllByParticipant(c.Context, userID, status)
	if err != nil {
		return fmt.Errorf("获取关系列表失败: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "用户 %s 的 %s 关系 (%d 条):\n", userID, status, len(rels))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINITIATOR\tTARGET\tCREATED")
	for _, rel := range rels {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rel.ID, rel.InitiatorID, rel.TargetID, rel.CreatedAt.Format(timeLayout))
	}
	return tw.Flush()
}

func deleteAction(c *cli.Context, env *adminEnv) error {
	id, err := uuidArg(c, 0, "关系ID")
	if err != nil {
		return err
	}
	if err := env.repo.Delete(c.Context, id); err != nil {
		if errors.Is(err, storage.ErrStaleRelationship) {
			return fmt.Errorf("关系 %s 不存在", id)
		}
		return fmt.Errorf("删除失败: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "已删除关系 %s\n", id)
	return nil
}

func tokenAction(c *cli.Context, env *adminEnv) error {
	userID, err := uuidArg(c, 0, "用户ID")
	if err != nil {
		return err
	}
	token, err := auth.GenerateToken(userID, c.String("username"), c.Duration("ttl"), env.authCfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}

func revokeAction(c *cli.Context, env *adminEnv) error {
	token := c.Args().First()
	if token == "" {
		return errors.New("需要指定 token")
	}
	claims, err := auth.ParseToken(token, env.authCfg)
	if err != nil {
		return fmt.Errorf("token 无效: %w", err)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return errors.New("token 缺少 jti 或过期时间，无法加入黑名单")
	}
	if err := env.blacklist.Add(c.Context, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "已吊销 token %s (用户 %s)\n", claims.ID, claims.UserID)
	return nil
}

func printRelationship(out io.Writer, rel *models.Relationship) {
	fmt.Fprintf(out, "关系 %s:\n", rel.ID)
	fmt.Fprintln(out, "--------------------------------------")
	fmt.Fprintf(out, "发起者: %s\n", rel.InitiatorID)
	fmt.Fprintf(out, "目标:   %s\n", rel.TargetID)
	fmt.Fprintf(out, "状态:   %s\n", rel.Status)
	fmt.Fprintf(out, "创建时间: %s\n", rel.CreatedAt.Format(timeLayout))
	if rel.UpdatedAt != nil {
		fmt.Fprintf(out, "更新时间: %s\n", rel.UpdatedAt.Format(timeLayout))
	}
}
