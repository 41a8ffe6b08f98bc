package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/engine"
)

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register agent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body RegisterAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		opts := engine.RegisterAgentOptions{
			Name:          input.Body.Name,
			WalletAddress: input.Body.WalletAddress,
			Description:   stringOrEmpty(input.Body.Description),
			ActorID:       actorIDFromContext(ctx),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		a, err := e.RegisterAgent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgent(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent-stats",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/stats",
		Summary:     "Agent earnings and completions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body domain.AgentStats `json:"body"`
	}, error) {
		s, err := e.Repo.AgentStats(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AgentStats `json:"body"`
		}{Body: s}, nil
	})
}

func registerServices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-service",
		Method:        http.MethodPost,
		Path:          "/services",
		Summary:       "Create service",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateServiceRequest `json:"body"`
	}) (*struct {
		Body domain.Service `json:"body"`
	}, error) {
		if input.Body.AgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent_id is required", nil)
		}
		opts := engine.CreateServiceOptions{
			AgentID:       input.Body.AgentID,
			Name:          input.Body.Name,
			Description:   stringOrEmpty(input.Body.Description),
			PriceLamports: input.Body.PriceLamports,
			ActorID:       actorIDFromContext(ctx),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Asset != nil {
			opts.Asset = *input.Body.Asset
		}
		s, err := e.CreateService(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Service `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List services",
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
	}) (*struct {
		Body []domain.Service `json:"body"`
	}, error) {
		items, err := e.Repo.ListServices(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Service `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-service",
		Method:      http.MethodGet,
		Path:        "/services/{service_id}",
		Summary:     "Get service",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ServiceID string `path:"service_id"`
	}) (*struct {
		Body domain.Service `json:"body"`
	}, error) {
		s, err := e.Repo.GetService(ctx, input.ServiceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Service `json:"body"`
		}{Body: s}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "initiate-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Initiate payment",
		Description:   "Opens a pending payment and returns the on-chain payment instructions.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body InitiatePaymentRequest `json:"body"`
	}) (*struct {
		Body InitiatePaymentResponse `json:"body"`
	}, error) {
		p, instr, err := e.InitiatePayment(ctx, input.Body.ServiceID, input.Body.PayerID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InitiatePaymentResponse `json:"body"`
		}{Body: InitiatePaymentResponse{Payment: p, Instructions: instr}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payments",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",pending,not_found,failed,wrong_recipient,underpaid,error,verified"`
	}) (*struct {
		Body []domain.Payment `json:"body"`
	}, error) {
		items, err := e.Repo.ListPayments(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Payment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/payments/{payment_id}",
		Summary:     "Get payment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, err := e.Repo.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/verify",
		Summary:     "Verify payment against the ledger",
		Description: "All reconciliation outcomes, including failures, return 200; only a transient oracle failure returns 500.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		PaymentID string               `path:"payment_id"`
		Body      VerifyPaymentRequest `json:"body"`
	}) (*struct {
		Body VerifyPaymentResponse `json:"body"`
	}, error) {
		if input.Body.TxSignature == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tx_signature is required", nil)
		}
		res, err := e.VerifyPayment(ctx, input.PaymentID, input.Body.TxSignature, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		if res.Outcome == engine.OutcomeVerificationError {
			return nil, newAPIError(http.StatusInternalServerError, "verification_error", res.Reason, map[string]any{
				"outcome": res.Outcome,
				"status":  res.Payment.Status,
			})
		}
		return &struct {
			Body VerifyPaymentResponse `json:"body"`
		}{Body: verifyResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "execute-payment",
		Method:        http.MethodPost,
		Path:          "/payments/{payment_id}/execute",
		Summary:       "Execute the paid service",
		Description:   "Admits a task only when the payment status is exactly verified; 402 otherwise.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusPaymentRequired,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string         `path:"payment_id"`
		Body      ExecuteRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Execute(ctx, input.PaymentID, string(input.Body.Input), actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Poll task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Gateway aggregates",
		Description: "Recomputed from the stores on every call.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		s, err := e.Repo.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail audit events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
