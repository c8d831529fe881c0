package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/inquiry"
)

func (s *Server) handleListInquiries(w http.ResponseWriter, r *http.Request) {
	if s.opts.Inquiries == nil {
		writeError(w, http.StatusBadRequest, "inquiry service is not configured")
		return
	}

	q := r.URL.Query()
	filter := inquiry.ListFilter{
		Channel:    core.InquiryChannel(q.Get("channel")),
		Priority:   core.InquiryPriority(q.Get("priority")),
		AssignedTo: q.Get("assigned_to"),
		Search:     q.Get("search"),
		Sort:       q.Get("sort"),
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, core.InquiryStatus(strings.TrimSpace(st)))
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}

	page, err := s.opts.Inquiries.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetInquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inq, err := s.opts.Inquiries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	msgs, err := s.opts.Inquiries.GetMessages(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inquiry":  inq,
		"messages": msgs,
	})
}

type inquiryPatchBody struct {
	Status        *string `json:"status,omitempty"`
	Priority      *string `json:"priority,omitempty"`
	AssignedTo    *string `json:"assignedTo,omitempty"`
	LinkedOrderID *string `json:"linkedOrderId,omitempty"`
}

func (s *Server) handlePatchInquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body inquiryPatchBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	patch := inquiry.UpdatePatch{
		AssignedTo:    body.AssignedTo,
		LinkedOrderID: body.LinkedOrderID,
	}
	if body.Status != nil {
		st := core.InquiryStatus(*body.Status)
		switch st {
		case core.InquiryNew, core.InquiryInProgress, core.InquiryResolved, core.InquiryClosed:
			patch.Status = &st
		default:
			writeError(w, http.StatusBadRequest, "unknown status: "+*body.Status)
			return
		}
	}
	if body.Priority != nil {
		pr := core.InquiryPriority(*body.Priority)
		switch pr {
		case core.PriorityLow, core.PriorityNormal, core.PriorityHigh, core.PriorityUrgent:
			patch.Priority = &pr
		default:
			writeError(w, http.StatusBadRequest, "unknown priority: "+*body.Priority)
			return
		}
	}

	updated, err := s.opts.Inquiries.Update(r.Context(), id, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type inquiryReplyBody struct {
	Content    string            `json:"content"`
	TemplateID string            `json:"templateId,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	AgentName  string            `json:"agentName,omitempty"`
}

func (s *Server) handleReplyInquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body inquiryReplyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	result, err := s.opts.Inquiries.SendReply(r.Context(), id, inquiry.ReplyInput{
		Content:    body.Content,
		TemplateID: body.TemplateID,
		Variables:  body.Variables,
		AgentName:  body.AgentName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{"success": result.Success}
	if result.Error != "" {
		resp["error"] = result.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInquirySync(w http.ResponseWriter, r *http.Request) {
	if s.opts.Inquiries == nil {
		writeError(w, http.StatusBadRequest, "inquiry service is not configured")
		return
	}
	report := s.opts.Inquiries.SyncFromAllChannels(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleInquiryMetrics(w http.ResponseWriter, r *http.Request) {
	if s.opts.Inquiries == nil {
		writeError(w, http.StatusBadRequest, "inquiry service is not configured")
		return
	}
	stats, err := s.opts.Inquiries.Metrics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
