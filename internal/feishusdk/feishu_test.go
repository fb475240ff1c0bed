package feishusdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	larkwiki "github.com/larksuite/oapi-sdk-go/v3/service/wiki/v2"
)

const (
	testWikiBitableURL = "https://example.larkoffice.com/wiki/WikiTokenRunTable?table=tblRunOutcomes"
	testBaseBitableURL = "https://example.feishu.cn/base/bascnRunTable?table=tblRunOutcomes&view=vewDefault"
)

type fakeCreateCall struct {
	AppToken string
	TableID  string
	Record   *larkbitable.AppTableRecord
}

type fakeBatchCreateCall struct {
	AppToken string
	TableID  string
	Body     *larkbitable.BatchCreateAppTableRecordReqBody
}

type fakeBitableAPI struct {
	createCalls      []fakeCreateCall
	batchCreateCalls []fakeBatchCreateCall

	createFn      func(ctx context.Context, call fakeCreateCall) (*larkbitable.CreateAppTableRecordResp, error)
	batchCreateFn func(ctx context.Context, call fakeBatchCreateCall) (*larkbitable.BatchCreateAppTableRecordResp, error)
}

func (f *fakeBitableAPI) Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, _ ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error) {
	call := fakeCreateCall{AppToken: appToken, TableID: tableID, Record: record}
	f.createCalls = append(f.createCalls, call)
	if f.createFn != nil {
		return f.createFn(ctx, call)
	}
	return okCreateResp("recDefault"), nil
}

func (f *fakeBitableAPI) BatchCreate(ctx context.Context, appToken, tableID string, body *larkbitable.BatchCreateAppTableRecordReqBody, _ ...larkcore.RequestOptionFunc) (*larkbitable.BatchCreateAppTableRecordResp, error) {
	call := fakeBatchCreateCall{AppToken: appToken, TableID: tableID, Body: body}
	f.batchCreateCalls = append(f.batchCreateCalls, call)
	if f.batchCreateFn != nil {
		return f.batchCreateFn(ctx, call)
	}
	return okBatchCreateResp(nil), nil
}

func okApiResp() *larkcore.ApiResp {
	return &larkcore.ApiResp{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		RawBody:    []byte(`{"code":0,"msg":"success"}`),
	}
}

func okCreateResp(recordID string) *larkbitable.CreateAppTableRecordResp {
	return &larkbitable.CreateAppTableRecordResp{
		ApiResp: okApiResp(),
		CodeError: larkcore.CodeError{
			Code: 0,
			Msg:  "success",
		},
		Data: &larkbitable.CreateAppTableRecordRespData{
			Record: &larkbitable.AppTableRecord{RecordId: larkcore.StringPtr(recordID)},
		},
	}
}

func okBatchCreateResp(records []*larkbitable.AppTableRecord) *larkbitable.BatchCreateAppTableRecordResp {
	return &larkbitable.BatchCreateAppTableRecordResp{
		ApiResp: okApiResp(),
		CodeError: larkcore.CodeError{
			Code: 0,
			Msg:  "success",
		},
		Data: &larkbitable.BatchCreateAppTableRecordRespData{
			Records: records,
		},
	}
}

type fakeWikiAPI struct {
	getNodeFn func(ctx context.Context, token string, options ...larkcore.RequestOptionFunc) (*larkwiki.GetNodeSpaceResp, error)
}

func (f *fakeWikiAPI) GetNode(ctx context.Context, token string, options ...larkcore.RequestOptionFunc) (*larkwiki.GetNodeSpaceResp, error) {
	if f == nil || f.getNodeFn == nil {
		return nil, fmt.Errorf("fake wiki api not configured")
	}
	return f.getNodeFn(ctx, token, options...)
}

func okWikiGetNodeResp(objToken, objType string) *larkwiki.GetNodeSpaceResp {
	return &larkwiki.GetNodeSpaceResp{
		ApiResp: okApiResp(),
		CodeError: larkcore.CodeError{
			Code: 0,
			Msg:  "success",
		},
		Data: &larkwiki.GetNodeSpaceRespData{
			Node: &larkwiki.Node{
				ObjToken: larkcore.StringPtr(objToken),
				ObjType:  larkcore.StringPtr(objType),
			},
		},
	}
}

func newSDKTestClient(fake *fakeBitableAPI, wiki *fakeWikiAPI) *Client {
	client := &Client{
		appID:         "test-app",
		appSecret:     "test-secret",
		transport:     "sdk",
		bitableAPI:    fake,
		tenantToken:   "test-tenant-token",
		tokenExpireAt: time.Now().Add(1 * time.Hour),
	}
	if wiki != nil {
		client.wikiAPI = wiki
	}
	return client
}

func newHTTPTestClient(doJSON func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error)) *Client {
	return &Client{
		appID:     "test-app",
		appSecret: "test-secret",
		transport: "http",
		doJSONRequestFunc: func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
			if doJSON == nil {
				return nil, nil, fmt.Errorf("unexpected request %s %s", method, path)
			}
			return doJSON(ctx, method, path, payload)
		},
	}
}

func runBitableTransports(t *testing.T, fn func(t *testing.T, transport string)) {
	t.Helper()
	for _, transport := range []string{"sdk", "http"} {
		t.Run(transport, func(t *testing.T) {
			fn(t, transport)
		})
	}
}

func TestParseBitableURL(t *testing.T) {
	cases := []struct {
		name     string
		url      string
		wantApp  string
		wantWiki string
		wantTbl  string
		wantVew  string
		wantErr  bool
	}{
		{
			name:    "base link",
			url:     "https://foo.feishu.cn/base/bascnabc123/table?table=tblX1&view=vew123",
			wantApp: "bascnabc123",
			wantTbl: "tblX1",
			wantVew: "vew123",
		},
		{
			name:     "wiki link",
			url:      "https://example.larkoffice.com/wiki/DKKwwF9XRincITkd0g1c6udUnHe?table=tblPvDwGcQ9UEzzi",
			wantWiki: "DKKwwF9XRincITkd0g1c6udUnHe",
			wantTbl:  "tblPvDwGcQ9UEzzi",
		},
		{
			name:    "snake case query keys",
			url:     "https://foo.feishu.cn/base/bascnabc123?table_id=tblSnake&view_id=vewSnake",
			wantApp: "bascnabc123",
			wantTbl: "tblSnake",
			wantVew: "vewSnake",
		},
		{
			name:    "missing table",
			url:     "https://foo.feishu.cn/base/bascnabc123",
			wantErr: true,
		},
		{
			name:    "unrecognized host",
			url:     "https://docs.example.com/base/bascnabc123?table=tblX1",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			url:     "ftp://foo.feishu.cn/base/bascnabc123?table=tblX1",
			wantErr: true,
		},
		{
			name:    "empty",
			url:     "   ",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseBitableURL(tc.url)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.AppToken != tc.wantApp {
				t.Fatalf("app token mismatch: want %q got %q", tc.wantApp, ref.AppToken)
			}
			if ref.WikiToken != tc.wantWiki {
				t.Fatalf("wiki token mismatch: want %q got %q", tc.wantWiki, ref.WikiToken)
			}
			if ref.TableID != tc.wantTbl {
				t.Fatalf("table mismatch: want %q got %q", tc.wantTbl, ref.TableID)
			}
			if ref.ViewID != tc.wantVew {
				t.Fatalf("view mismatch: want %q got %q", tc.wantVew, ref.ViewID)
			}
		})
	}
}

func TestIsBitableURL(t *testing.T) {
	if !IsBitableURL(testWikiBitableURL) {
		t.Fatalf("expected %q to be recognized", testWikiBitableURL)
	}
	if IsBitableURL("https://example.com/base/basc?table=tblX1") {
		t.Fatal("expected foreign host to be rejected")
	}
}

func TestIsAllowedFeishuHost(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"example.feishu.cn", true},
		{"example.larkoffice.com", true},
		{"EXAMPLE.LARKSUITE.COM", true},
		{"feishu.cn", true},
		{"evil.example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isAllowedFeishuHost(tc.host); got != tc.want {
			t.Fatalf("isAllowedFeishuHost(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}

func TestBuildRunRecordPayloads(t *testing.T) {
	bezel := 62.0
	records := []RunRecordInput{
		{
			RunID:       "20260823-102030-host",
			DisplayName: "iPhone 16 Pro",
			Identifiers: "iPhone17,1, iPhone17,2",
			Status:      GroupStatusMeasured,
			Bezel:       &bezel,
			FinishedAt:  "2026-08-23T10:22:00Z",
		},
		{
			RunID:       "20260823-102030-host",
			DisplayName: "Unknown iPad",
			Identifiers: "iPad99,1",
			Status:      GroupStatusFailed,
			Reason:      "no-supported-profile",
			Detail:      "no capability profile supports it",
		},
	}
	rows, err := buildRunRecordPayloads(records, DefaultRunFields)
	if err != nil {
		t.Fatalf("buildRunRecordPayloads returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unexpected payload length %d", len(rows))
	}

	first := rows[0]
	if first[DefaultRunFields.DisplayName] != "iPhone 16 Pro" {
		t.Fatalf("unexpected device name payload %#v", first)
	}
	if v, ok := first[DefaultRunFields.Bezel].(float64); !ok || v != 62 {
		t.Fatalf("unexpected bezel payload %#v", first[DefaultRunFields.Bezel])
	}
	if _, exists := first[DefaultRunFields.Reason]; exists {
		t.Fatal("empty reason should be omitted")
	}
	second := rows[1]
	if _, exists := second[DefaultRunFields.Bezel]; exists {
		t.Fatal("nil bezel should be omitted")
	}
	if second[DefaultRunFields.Reason] != "no-supported-profile" {
		t.Fatalf("unexpected reason payload %#v", second[DefaultRunFields.Reason])
	}
}

func TestBuildRunRecordPayloadsRejectsEmptyRecord(t *testing.T) {
	if _, err := buildRunRecordPayloads([]RunRecordInput{{}}, DefaultRunFields); err == nil {
		t.Fatal("expected error for a record with no fields")
	}
}

func TestRunFieldsMerge(t *testing.T) {
	merged := baseRunFields.merge(RunFields{Status: "biz_status", Bezel: "Radius"})
	if merged.Status != "biz_status" || merged.Bezel != "Radius" {
		t.Fatalf("override not applied: %+v", merged)
	}
	if merged.RunID != baseRunFields.RunID || merged.DisplayName != baseRunFields.DisplayName {
		t.Fatalf("untouched fields changed: %+v", merged)
	}
}

func TestRefreshFieldMappingsEnvOverride(t *testing.T) {
	t.Cleanup(RefreshFieldMappings)
	t.Setenv("RUN_FIELD_BEZEL", "Radius")
	RefreshFieldMappings()
	if DefaultRunFields.Bezel != "Radius" {
		t.Fatalf("expected env override applied, got %q", DefaultRunFields.Bezel)
	}
	if DefaultRunFields.RunID != baseRunFields.RunID {
		t.Fatalf("unrelated mapping changed: %+v", DefaultRunFields)
	}
}

func TestCreateRunRecords(t *testing.T) {
	runBitableTransports(t, func(t *testing.T, transport string) {
		const wikiResponse = `{"code":0,"msg":"success","data":{"node":{"obj_token":"bascnRunToken","obj_type":"bitable"}}}`

		ctx := context.Background()
		bezel := 62.0
		records := []RunRecordInput{
			{RunID: "run-1", DisplayName: "iPhone 16 Pro", Identifiers: "iPhone17,1", Status: GroupStatusMeasured, Bezel: &bezel},
			{RunID: "run-1", DisplayName: "Unknown iPad", Identifiers: "iPad99,1", Status: GroupStatusFailed, Reason: "no-supported-profile"},
		}

		var (
			wikiCalled   bool
			createCalled bool
			capturedCall fakeBatchCreateCall
			captured     map[string]any
		)

		doJSON := func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
			switch {
			case method == http.MethodGet && strings.Contains(path, "/wiki/v2/spaces/get_node"):
				wikiCalled = true
				return nil, []byte(wikiResponse), nil
			case method == http.MethodPost && strings.Contains(path, "/records/batch_create"):
				createCalled = true
				m, ok := payload.(map[string]any)
				if !ok {
					t.Fatalf("expected map payload, got %T", payload)
				}
				captured = m
				return nil, []byte(`{"code":0,"msg":"success","data":{"records":[{"record_id":"recAAA"},{"record_id":"recBBB"}]}}`), nil
			default:
				t.Fatalf("unexpected request %s %s", method, path)
			}
			return nil, nil, nil
		}

		var client *Client
		if transport == "sdk" {
			fake := &fakeBitableAPI{
				batchCreateFn: func(ctx context.Context, call fakeBatchCreateCall) (*larkbitable.BatchCreateAppTableRecordResp, error) {
					createCalled = true
					capturedCall = call
					return okBatchCreateResp([]*larkbitable.AppTableRecord{
						{RecordId: larkcore.StringPtr("recAAA")},
						{RecordId: larkcore.StringPtr("recBBB")},
					}), nil
				},
			}
			client = newSDKTestClient(fake, &fakeWikiAPI{
				getNodeFn: func(ctx context.Context, token string, options ...larkcore.RequestOptionFunc) (*larkwiki.GetNodeSpaceResp, error) {
					wikiCalled = true
					return okWikiGetNodeResp("bascnRunToken", "bitable"), nil
				},
			})
		} else {
			client = newHTTPTestClient(doJSON)
		}

		ids, err := client.CreateRunRecords(ctx, testWikiBitableURL, records, nil)
		if err != nil {
			t.Fatalf("CreateRunRecords returned error: %v", err)
		}
		if !wikiCalled || !createCalled {
			t.Fatalf("expected wiki + batch create calls, got wiki=%v create=%v", wikiCalled, createCalled)
		}
		if len(ids) != 2 || ids[0] != "recAAA" || ids[1] != "recBBB" {
			t.Fatalf("unexpected ids %#v", ids)
		}

		var fieldRows []map[string]any
		if transport == "sdk" {
			if capturedCall.AppToken != "bascnRunToken" || capturedCall.TableID != "tblRunOutcomes" {
				t.Fatalf("unexpected call target: %+v", capturedCall)
			}
			if capturedCall.Body == nil || len(capturedCall.Body.Records) != 2 {
				t.Fatalf("expected 2 record payloads, got %#v", capturedCall.Body)
			}
			for _, rec := range capturedCall.Body.Records {
				fieldRows = append(fieldRows, rec.Fields)
			}
		} else {
			recordPayloads, ok := captured["records"].([]map[string]any)
			if !ok || len(recordPayloads) != 2 {
				t.Fatalf("expected 2 record payloads, got %#v", captured)
			}
			for _, rec := range recordPayloads {
				fields, ok := rec["fields"].(map[string]any)
				if !ok {
					t.Fatalf("expected fields map, got %T", rec["fields"])
				}
				fieldRows = append(fieldRows, fields)
			}
		}

		if fieldRows[0][DefaultRunFields.Status] != GroupStatusMeasured {
			t.Fatalf("unexpected status payload %#v", fieldRows[0])
		}
		if v, ok := fieldRows[0][DefaultRunFields.Bezel].(float64); !ok || v != 62 {
			t.Fatalf("unexpected bezel payload %#v", fieldRows[0][DefaultRunFields.Bezel])
		}
		if fieldRows[1][DefaultRunFields.Reason] != "no-supported-profile" {
			t.Fatalf("unexpected reason payload %#v", fieldRows[1])
		}
	})
}

func TestCreateRunRecordSingle(t *testing.T) {
	runBitableTransports(t, func(t *testing.T, transport string) {
		ctx := context.Background()
		record := RunRecordInput{RunID: "run-1", DisplayName: "iPhone 16 Pro", Status: GroupStatusMeasured}

		var createdPath string
		doJSON := func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
			if method == http.MethodPost && strings.HasSuffix(path, "/records") {
				createdPath = path
				return nil, []byte(`{"code":0,"msg":"success","data":{"record":{"record_id":"recSingle"}}}`), nil
			}
			t.Fatalf("unexpected request %s %s", method, path)
			return nil, nil, nil
		}

		var client *Client
		var fake *fakeBitableAPI
		if transport == "sdk" {
			fake = &fakeBitableAPI{
				createFn: func(ctx context.Context, call fakeCreateCall) (*larkbitable.CreateAppTableRecordResp, error) {
					return okCreateResp("recSingle"), nil
				},
			}
			client = newSDKTestClient(fake, nil)
		} else {
			client = newHTTPTestClient(doJSON)
		}

		id, err := client.CreateRunRecord(ctx, testBaseBitableURL, record, nil)
		if err != nil {
			t.Fatalf("CreateRunRecord returned error: %v", err)
		}
		if id != "recSingle" {
			t.Fatalf("unexpected record id %q", id)
		}
		if transport == "sdk" {
			if len(fake.createCalls) != 1 || len(fake.batchCreateCalls) != 0 {
				t.Fatalf("expected single create call, got create=%d batch=%d", len(fake.createCalls), len(fake.batchCreateCalls))
			}
			if fake.createCalls[0].AppToken != "bascnRunTable" {
				t.Fatalf("unexpected app token %q", fake.createCalls[0].AppToken)
			}
		} else {
			if strings.Contains(createdPath, "batch_create") {
				t.Fatalf("single record must not use batch_create, got %q", createdPath)
			}
			if !strings.Contains(createdPath, "bascnRunTable") || !strings.Contains(createdPath, "tblRunOutcomes") {
				t.Fatalf("unexpected create path %q", createdPath)
			}
		}
	})
}

func TestEnsureBitableAppTokenCachesWikiLookups(t *testing.T) {
	var wikiCalls int
	fake := &fakeBitableAPI{}
	client := newSDKTestClient(fake, &fakeWikiAPI{
		getNodeFn: func(ctx context.Context, token string, options ...larkcore.RequestOptionFunc) (*larkwiki.GetNodeSpaceResp, error) {
			wikiCalls++
			return okWikiGetNodeResp("bascnCached", "bitable"), nil
		},
	})

	ctx := context.Background()
	record := RunRecordInput{RunID: "run-1", Status: GroupStatusMeasured}
	for i := 0; i < 3; i++ {
		if _, err := client.CreateRunRecord(ctx, testWikiBitableURL, record, nil); err != nil {
			t.Fatalf("CreateRunRecord #%d returned error: %v", i, err)
		}
	}
	if wikiCalls != 1 {
		t.Fatalf("expected one wiki lookup, got %d", wikiCalls)
	}
	if len(fake.createCalls) != 3 {
		t.Fatalf("expected 3 create calls, got %d", len(fake.createCalls))
	}
}

func TestEnsureBitableAppTokenRejectsNonBitableNode(t *testing.T) {
	client := newSDKTestClient(&fakeBitableAPI{}, &fakeWikiAPI{
		getNodeFn: func(ctx context.Context, token string, options ...larkcore.RequestOptionFunc) (*larkwiki.GetNodeSpaceResp, error) {
			return okWikiGetNodeResp("docToken", "doc"), nil
		},
	})
	_, err := client.CreateRunRecord(context.Background(), testWikiBitableURL, RunRecordInput{RunID: "run-1"}, nil)
	if err == nil || !strings.Contains(err.Error(), "not bitable") {
		t.Fatalf("expected non-bitable node error, got %v", err)
	}
}

func TestCreateRunRecordsValidatesInput(t *testing.T) {
	client := newSDKTestClient(&fakeBitableAPI{}, nil)
	if _, err := client.CreateRunRecords(context.Background(), testBaseBitableURL, nil, nil); err == nil {
		t.Fatal("expected error for empty record slice")
	}
	var nilClient *Client
	if _, err := nilClient.CreateRunRecords(context.Background(), testBaseBitableURL, []RunRecordInput{{RunID: "x"}}, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestNewRunStorage(t *testing.T) {
	if NewRunStorage(nil, testBaseBitableURL) != nil {
		t.Fatal("expected nil storage for nil client")
	}
	client := newSDKTestClient(&fakeBitableAPI{}, nil)
	if NewRunStorage(client, "   ") != nil {
		t.Fatal("expected nil storage for empty url")
	}
	storage := NewRunStorage(client, "  "+testBaseBitableURL+"  ")
	if storage == nil {
		t.Fatal("expected storage")
	}
	if storage.TableURL() != testBaseBitableURL {
		t.Fatalf("expected trimmed url, got %q", storage.TableURL())
	}
}

func TestNewRunStorageFromEnvDisabled(t *testing.T) {
	t.Setenv(EnvRunBitableURL, "")
	storage, err := NewRunStorageFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage != nil {
		t.Fatalf("expected reporting disabled, got %+v", storage)
	}
}

func TestRunStorageWriteBatch(t *testing.T) {
	fake := &fakeBitableAPI{
		batchCreateFn: func(ctx context.Context, call fakeBatchCreateCall) (*larkbitable.BatchCreateAppTableRecordResp, error) {
			return okBatchCreateResp([]*larkbitable.AppTableRecord{
				{RecordId: larkcore.StringPtr("rec1")},
				{RecordId: larkcore.StringPtr("rec2")},
			}), nil
		},
	}
	client := newSDKTestClient(fake, nil)
	storage := NewRunStorage(client, testBaseBitableURL)

	records := []RunRecordInput{
		{RunID: "run-1", DisplayName: "iPhone 16 Pro", Status: GroupStatusMeasured},
		{RunID: "run-1", DisplayName: "iPad Pro 11-inch (M4)", Status: GroupStatusMeasured},
	}
	if err := storage.WriteBatch(context.Background(), records); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(fake.batchCreateCalls) != 1 {
		t.Fatalf("expected one batch create, got %d", len(fake.batchCreateCalls))
	}
	if err := storage.WriteBatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}
