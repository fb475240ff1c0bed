package feishusdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// BitableRef captures identifiers parsed from a Feishu Bitable link.
type BitableRef struct {
	RawURL    string
	AppToken  string
	TableID   string
	ViewID    string
	WikiToken string
}

// RunRecordInput carries one device group outcome destined for the run table.
type RunRecordInput struct {
	RunID       string
	DisplayName string
	Identifiers string
	Status      string
	Reason      string
	Bezel       *float64
	Detail      string
	FinishedAt  string
}

var hostAllowList = []string{"feishu.cn", "feishuapp.com", "larksuite.com", "larkoffice.com"}

func isAllowedFeishuHost(host string) bool {
	if host == "" {
		return false
	}
	lower := strings.ToLower(host)
	for _, allowed := range hostAllowList {
		if strings.HasSuffix(lower, allowed) {
			return true
		}
	}
	return false
}

// IsBitableURL returns true if the url matches a supported Feishu Bitable link.
func IsBitableURL(raw string) bool {
	_, err := ParseBitableURL(raw)
	return err == nil
}

// ParseBitableURL extracts app token, table id and view id from Feishu Bitable links.
func ParseBitableURL(raw string) (ref BitableRef, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "parse bitable url failed")
		}
	}()

	ref = BitableRef{RawURL: strings.TrimSpace(raw)}
	if ref.RawURL == "" {
		return ref, errors.New("empty url")
	}

	u, err := url.Parse(ref.RawURL)
	if err != nil {
		return ref, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ref, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if !isAllowedFeishuHost(u.Host) {
		return ref, fmt.Errorf("host %q is not recognized as Feishu", u.Host)
	}

	segments := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return ref, errors.New("missing path segments in url")
	}

	for i := 0; i < len(segments)-1; i++ {
		switch segments[i] {
		case "base":
			ref.AppToken = segments[i+1]
		case "wiki":
			ref.WikiToken = segments[i+1]
		}
		if ref.AppToken != "" {
			break
		}
	}
	if ref.AppToken == "" && ref.WikiToken == "" {
		if len(segments) >= 2 && segments[0] == "wiki" {
			ref.WikiToken = segments[len(segments)-1]
		} else {
			ref.AppToken = segments[len(segments)-1]
		}
	}
	if ref.AppToken == "" && ref.WikiToken == "" {
		return ref, errors.New("missing app token or wiki token in url")
	}

	q := u.Query()
	for _, key := range []string{"table", "tableId", "table_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			ref.TableID = v
			break
		}
	}
	if ref.TableID == "" {
		return ref, errors.New("missing table id in url query")
	}

	for _, key := range []string{"view", "viewId", "view_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			ref.ViewID = v
			break
		}
	}

	return ref, nil
}

// CreateRunRecord creates a single run outcome entry in the configured table.
func (c *Client) CreateRunRecord(ctx context.Context, rawURL string, record RunRecordInput, override *RunFields) (string, error) {
	ids, err := c.CreateRunRecords(ctx, rawURL, []RunRecordInput{record}, override)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", errors.New("feishu: run record creation returned no ids")
	}
	return ids[0], nil
}

// CreateRunRecords creates one or more run outcome rows.
func (c *Client) CreateRunRecords(ctx context.Context, rawURL string, records []RunRecordInput, override *RunFields) ([]string, error) {
	if c == nil {
		return nil, errors.New("feishu: client is nil")
	}
	if len(records) == 0 {
		return nil, errors.New("feishu: no run records provided for creation")
	}
	ref, err := ParseBitableURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := c.ensureBitableAppToken(ctx, &ref); err != nil {
		return nil, err
	}
	fields := DefaultRunFields
	if override != nil {
		fields = fields.merge(*override)
	}
	payloads, err := buildRunRecordPayloads(records, fields)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 1 {
		id, err := c.createBitableRecord(ctx, ref, payloads[0])
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}
	return c.batchCreateBitableRecords(ctx, ref, payloads)
}

func buildRunRecordPayloads(records []RunRecordInput, fields RunFields) (result []map[string]any, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "build run record payloads failed")
		}
	}()

	result = make([]map[string]any, 0, len(records))
	for idx, rec := range records {
		row := make(map[string]any)
		addOptionalField(row, fields.RunID, rec.RunID)
		addOptionalField(row, fields.DisplayName, rec.DisplayName)
		addOptionalField(row, fields.Identifiers, rec.Identifiers)
		addOptionalField(row, fields.Status, rec.Status)
		addOptionalField(row, fields.Reason, rec.Reason)
		addOptionalNumber(row, fields.Bezel, rec.Bezel)
		addOptionalField(row, fields.Detail, rec.Detail)
		addOptionalField(row, fields.FinishedAt, rec.FinishedAt)
		if len(row) == 0 {
			return nil, fmt.Errorf("feishu: run record %d has no fields to set", idx)
		}
		result = append(result, row)
	}
	return result, nil
}

func (fields RunFields) merge(override RunFields) RunFields {
	result := fields
	if strings.TrimSpace(override.RunID) != "" {
		log.Warn().Str("new", override.RunID).Msg("overriding field RunID")
		result.RunID = override.RunID
	}
	if strings.TrimSpace(override.DisplayName) != "" {
		log.Warn().Str("new", override.DisplayName).Msg("overriding field DisplayName")
		result.DisplayName = override.DisplayName
	}
	if strings.TrimSpace(override.Identifiers) != "" {
		log.Warn().Str("new", override.Identifiers).Msg("overriding field Identifiers")
		result.Identifiers = override.Identifiers
	}
	if strings.TrimSpace(override.Status) != "" {
		log.Warn().Str("new", override.Status).Msg("overriding field Status")
		result.Status = override.Status
	}
	if strings.TrimSpace(override.Reason) != "" {
		log.Warn().Str("new", override.Reason).Msg("overriding field Reason")
		result.Reason = override.Reason
	}
	if strings.TrimSpace(override.Bezel) != "" {
		log.Warn().Str("new", override.Bezel).Msg("overriding field Bezel")
		result.Bezel = override.Bezel
	}
	if strings.TrimSpace(override.Detail) != "" {
		log.Warn().Str("new", override.Detail).Msg("overriding field Detail")
		result.Detail = override.Detail
	}
	if strings.TrimSpace(override.FinishedAt) != "" {
		log.Warn().Str("new", override.FinishedAt).Msg("overriding field FinishedAt")
		result.FinishedAt = override.FinishedAt
	}
	return result
}

func addOptionalField(dst map[string]any, column, value string) {
	if strings.TrimSpace(column) == "" || strings.TrimSpace(value) == "" {
		return
	}
	dst[column] = value
}

func addOptionalNumber(dst map[string]any, column string, value *float64) {
	if strings.TrimSpace(column) == "" || value == nil {
		return
	}
	dst[column] = *value
}

func (c *Client) ensureBitableAppToken(ctx context.Context, ref *BitableRef) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "ensure bitable app token failed")
		}
	}()

	if c == nil {
		return errors.New("feishu: client is nil")
	}
	if ref == nil {
		return errors.New("feishu: bitable reference is nil")
	}
	if strings.TrimSpace(ref.AppToken) != "" {
		return nil
	}
	wikiToken := strings.TrimSpace(ref.WikiToken)
	if wikiToken == "" {
		return errors.New("feishu: bitable app token not found in url")
	}

	if cached, ok := c.loadCachedAppToken(wikiToken); ok {
		ref.AppToken = cached
		return nil
	}

	val, err, _ := c.appTokenGroup.Do(wikiToken, func() (interface{}, error) {
		node, err := c.fetchWikiNode(ctx, wikiToken)
		if err != nil {
			return "", err
		}
		if node.ObjToken == "" {
			return "", errors.New("feishu: wiki node response missing obj_token")
		}
		if node.ObjType != "bitable" {
			return "", fmt.Errorf("feishu: wiki node type %q is not bitable", node.ObjType)
		}
		return node.ObjToken, nil
	})
	if err != nil {
		return err
	}

	appToken, _ := val.(string)
	if strings.TrimSpace(appToken) == "" {
		return errors.New("feishu: wiki node response missing obj_token")
	}

	c.storeAppTokenCache(wikiToken, appToken)
	ref.AppToken = appToken
	return nil
}

func (c *Client) loadCachedAppToken(wikiToken string) (string, bool) {
	if c == nil || strings.TrimSpace(wikiToken) == "" {
		return "", false
	}
	c.appTokenMu.RLock()
	defer c.appTokenMu.RUnlock()
	token, ok := c.appTokenCache[wikiToken]
	return token, ok
}

func (c *Client) storeAppTokenCache(wikiToken, appToken string) {
	if c == nil || strings.TrimSpace(wikiToken) == "" || strings.TrimSpace(appToken) == "" {
		return
	}
	c.appTokenMu.Lock()
	defer c.appTokenMu.Unlock()
	if c.appTokenCache == nil {
		c.appTokenCache = make(map[string]string)
	}
	c.appTokenCache[wikiToken] = appToken
}

type wikiNodeInfo struct {
	ObjToken string `json:"obj_token"`
	ObjType  string `json:"obj_type"`
}

func (c *Client) fetchWikiNode(ctx context.Context, wikiToken string) (wikiNodeInfo, error) {
	var empty wikiNodeInfo
	if strings.TrimSpace(wikiToken) == "" {
		return empty, errors.New("feishu: wiki token is empty")
	}
	if c.useHTTP() {
		path := fmt.Sprintf("/open-apis/wiki/v2/spaces/get_node?token=%s", url.QueryEscape(wikiToken))
		_, raw, err := c.doJSONRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return empty, err
		}
		var resp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				Node wikiNodeInfo `json:"node"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return empty, fmt.Errorf("feishu: decode wiki node response: %w", err)
		}
		if resp.Code != 0 {
			return empty, fmt.Errorf("feishu: wiki get_node failed code=%d msg=%s", resp.Code, resp.Msg)
		}
		return resp.Data.Node, nil
	}

	api, opts, err := c.wikiSDK(ctx)
	if err != nil {
		return empty, err
	}
	resp, err := api.GetNode(ctx, wikiToken, opts...)
	if err != nil {
		return empty, fmt.Errorf("feishu: wiki get_node request failed: %w", err)
	}
	if resp == nil || resp.ApiResp == nil {
		return empty, errors.New("feishu: empty response when getting wiki node")
	}
	if err := ensureSDKSuccess("wiki get_node", resp.Success(), resp.Code, resp.Msg, resp.RequestId()); err != nil {
		return empty, err
	}
	if resp.Data == nil || resp.Data.Node == nil {
		return empty, errors.New("feishu: wiki node response missing node")
	}

	return wikiNodeInfo{
		ObjToken: larkcore.StringValue(resp.Data.Node.ObjToken),
		ObjType:  larkcore.StringValue(resp.Data.Node.ObjType),
	}, nil
}

func requireBitableAppToken(ref BitableRef) error {
	if strings.TrimSpace(ref.AppToken) == "" {
		return errors.New("feishu: bitable app token is empty")
	}
	return nil
}

func requireBitableTableID(ref BitableRef) error {
	if strings.TrimSpace(ref.TableID) == "" {
		return errors.New("feishu: bitable table id is empty")
	}
	return nil
}

func requireBitableAppTable(ref BitableRef) error {
	if err := requireBitableAppToken(ref); err != nil {
		return err
	}
	if err := requireBitableTableID(ref); err != nil {
		return err
	}
	return nil
}

func ensureSDKSuccess(action string, ok bool, code int, msg, logID string) error {
	if ok {
		return nil
	}
	if strings.TrimSpace(logID) == "" {
		return fmt.Errorf("feishu: %s failed code=%d msg=%s", action, code, msg)
	}
	return fmt.Errorf("feishu: %s failed code=%d msg=%s log_id=%s", action, code, msg, logID)
}

func (c *Client) createBitableRecord(ctx context.Context, ref BitableRef, fields map[string]any) (recordID string, err error) {
	if c.useHTTP() {
		return c.createBitableRecordHTTP(ctx, ref, fields)
	}
	return c.createBitableRecordSDK(ctx, ref, fields)
}

func (c *Client) createBitableRecordHTTP(ctx context.Context, ref BitableRef, fields map[string]any) (recordID string, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "create bitable record failed")
		}
	}()

	if len(fields) == 0 {
		return "", errors.New("feishu: no fields provided for creation")
	}
	if err := requireBitableAppTable(ref); err != nil {
		return "", err
	}
	payload := map[string]any{"fields": fields}
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records", url.PathEscape(ref.AppToken), url.PathEscape(ref.TableID))

	_, raw, err := c.doJSONRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Record *larkbitable.AppTableRecord `json:"record"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("feishu: decode create response: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("feishu: create record failed code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data.Record == nil {
		return "", errors.New("feishu: create record response missing record")
	}
	id := strings.TrimSpace(larkcore.StringValue(resp.Data.Record.RecordId))
	if id == "" {
		return "", errors.New("feishu: create record response missing record id")
	}
	return id, nil
}

func (c *Client) createBitableRecordSDK(ctx context.Context, ref BitableRef, fields map[string]any) (recordID string, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "create bitable record failed")
		}
	}()

	if len(fields) == 0 {
		return "", errors.New("feishu: no fields provided for creation")
	}
	if err := requireBitableAppTable(ref); err != nil {
		return "", err
	}
	api, opt, err := c.bitableSDK(ctx)
	if err != nil {
		return "", err
	}

	record := larkbitable.NewAppTableRecordBuilder().
		Fields(fields).
		Build()

	resp, err := api.Create(ctx, ref.AppToken, ref.TableID, record, opt)
	if err != nil {
		return "", fmt.Errorf("feishu: create record request failed: %w", err)
	}
	if resp == nil || resp.ApiResp == nil {
		return "", errors.New("feishu: empty response when creating record")
	}
	if err := ensureSDKSuccess("create record", resp.Success(), resp.Code, resp.Msg, resp.RequestId()); err != nil {
		return "", err
	}
	if resp.Data == nil || resp.Data.Record == nil {
		return "", errors.New("feishu: create record response missing record")
	}
	id := strings.TrimSpace(larkcore.StringValue(resp.Data.Record.RecordId))
	if id == "" {
		return "", errors.New("feishu: create record response missing record id")
	}
	return id, nil
}

func (c *Client) batchCreateBitableRecords(ctx context.Context, ref BitableRef, records []map[string]any) (recordIDs []string, err error) {
	if c.useHTTP() {
		return c.batchCreateBitableRecordsHTTP(ctx, ref, records)
	}
	return c.batchCreateBitableRecordsSDK(ctx, ref, records)
}

func (c *Client) batchCreateBitableRecordsHTTP(ctx context.Context, ref BitableRef, records []map[string]any) (recordIDs []string, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "batch create bitable records failed")
		}
	}()

	if len(records) == 0 {
		return nil, errors.New("feishu: no records provided for batch create")
	}
	if err := requireBitableAppTable(ref); err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, fields := range records {
		if len(fields) == 0 {
			return nil, errors.New("feishu: record payload is empty")
		}
		items = append(items, map[string]any{"fields": fields})
	}
	payload := map[string]any{"records": items}
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/batch_create", url.PathEscape(ref.AppToken), url.PathEscape(ref.TableID))

	_, raw, err := c.doJSONRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Records []*larkbitable.AppTableRecord `json:"records"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("feishu: decode batch create response: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("feishu: batch create records failed code=%d msg=%s", resp.Code, resp.Msg)
	}
	ids := make([]string, 0, len(resp.Data.Records))
	for _, rec := range resp.Data.Records {
		if rec == nil {
			continue
		}
		id := strings.TrimSpace(larkcore.StringValue(rec.RecordId))
		if id == "" {
			return nil, errors.New("feishu: batch create response missing record id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) batchCreateBitableRecordsSDK(ctx context.Context, ref BitableRef, records []map[string]any) (recordIDs []string, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "batch create bitable records failed")
		}
	}()

	if len(records) == 0 {
		return nil, errors.New("feishu: no records provided for batch create")
	}
	if err := requireBitableAppTable(ref); err != nil {
		return nil, err
	}
	api, opt, err := c.bitableSDK(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*larkbitable.AppTableRecord, 0, len(records))
	for _, fields := range records {
		if len(fields) == 0 {
			return nil, errors.New("feishu: record payload is empty")
		}
		items = append(items, larkbitable.NewAppTableRecordBuilder().
			Fields(fields).
			Build(),
		)
	}

	body := larkbitable.NewBatchCreateAppTableRecordReqBodyBuilder().
		Records(items).
		Build()

	resp, err := api.BatchCreate(ctx, ref.AppToken, ref.TableID, body, opt)
	if err != nil {
		return nil, fmt.Errorf("feishu: batch create request failed: %w", err)
	}
	if resp == nil || resp.ApiResp == nil {
		return nil, errors.New("feishu: empty response when batch creating records")
	}
	if err := ensureSDKSuccess("batch create records", resp.Success(), resp.Code, resp.Msg, resp.RequestId()); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, errors.New("feishu: batch create response missing data")
	}
	ids := make([]string, 0, len(resp.Data.Records))
	for _, rec := range resp.Data.Records {
		if rec == nil {
			continue
		}
		id := strings.TrimSpace(larkcore.StringValue(rec.RecordId))
		if id == "" {
			return nil, errors.New("feishu: batch create response missing record id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
