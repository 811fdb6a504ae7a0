package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/adminpb"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const callTimeout = 2 * time.Minute

type Client struct {
	endpointURL string
	conn        *grpc.ClientConn
	stub        *adminpb.LeaseAdminClient
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if c.accessToken != "" {
		ctx = withAccessToken(ctx, c.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// New connects lazily to endpointURL; token may be empty before Login.
func New(endpointURL, token string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{endpointURL: endpointURL, accessToken: token}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.stub = adminpb.NewLeaseAdminClient(conn)
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Token returns the current access token.
func (c *Client) Token() string {
	return c.accessToken
}

func (c *Client) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		if st.Message() == common.ErrTokenExpired.Error() {
			return fmt.Errorf("%w (%s)", ErrUnauthorized, st.Message())
		}
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists, codes.Aborted:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

func (c *Client) Login(ctx context.Context, password []byte) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.stub.Login(ctx, wrapperspb.String(string(password)))
	if err != nil {
		return c.mapError(err)
	}
	c.accessToken = resp.GetValue()
	return nil
}

func (c *Client) EndLease(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.stub.EndLease(ctx, wrapperspb.Int64(id))
	return c.mapError(err)
}

func (c *Client) Block(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.stub.BlockResource(ctx, wrapperspb.Int64(id))
	return c.mapError(err)
}

func (c *Client) Unblock(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.stub.UnblockResource(ctx, wrapperspb.Int64(id))
	return c.mapError(err)
}

func (c *Client) GetResource(ctx context.Context, id int64) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.stub.GetResource(ctx, wrapperspb.Int64(id))
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.AsMap(), nil
}

func (c *Client) Sweep(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.stub.RunSweep(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.AsMap(), nil
}

func (c *Client) ClearBackoff(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.stub.ClearReclaimBackoff(ctx, wrapperspb.Int64(id))
	return c.mapError(err)
}

func subscriptionEnd(resp *structpb.Struct) string {
	return resp.GetFields()["subscription_end"].GetStringValue()
}

// Grant extends an owner's subscription for free and returns the new end.
func (c *Client) Grant(ctx context.Context, telegramID int64, days int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{"telegram_id": telegramID, "days": days})
	if err != nil {
		return "", err
	}
	resp, err := c.stub.GrantSubscription(ctx, in)
	if err != nil {
		return "", c.mapError(err)
	}
	return subscriptionEnd(resp), nil
}

// Purchase buys plan from the owner's balance and returns the new end.
func (c *Client) Purchase(ctx context.Context, telegramID int64, plan string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{"telegram_id": telegramID, "plan": plan})
	if err != nil {
		return "", err
	}
	resp, err := c.stub.PurchaseSubscription(ctx, in)
	if err != nil {
		return "", c.mapError(err)
	}
	return subscriptionEnd(resp), nil
}

// Export writes a snapshot to object storage and returns its key.
func (c *Client) Export(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.stub.ExportSnapshot(ctx, &emptypb.Empty{})
	if err != nil {
		return "", c.mapError(err)
	}
	return resp.GetValue(), nil
}
